package signaling

import (
	"context"
	"testing"
	"time"

	"driftchat/internal/safety"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allowAll is the trivial eligibility check.
type allowAll struct{}

func (allowAll) CanInteract(context.Context, string, string) (safety.Eligibility, error) {
	return safety.Eligibility{Allowed: true}, nil
}

type pairRecorder struct {
	pairs [][2]string
}

func (p *pairRecorder) record(a, b string) {
	p.pairs = append(p.pairs, [2]string{a, b})
}

func searchingUser(t *testing.T, r *Registry, id string) {
	t.Helper()
	_, err := r.Register(id)
	require.NoError(t, err)
	require.NoError(t, r.Transition(id, StateSearching))
}

func TestMatchPassPairsOldestFirst(t *testing.T) {
	r := NewRegistry()
	rec := &pairRecorder{}
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{OnPaired: rec.record})

	for _, id := range []string{"alice", "bob", "carol"} {
		searchingUser(t, r, id)
		m.enqueue(id)
	}
	m.matchPass(context.Background())

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, rec.pairs[0])
	assert.Equal(t, []string{"carol"}, m.queue)

	a, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", a.PartnerID)
}

func TestMatchPassSkipsBlockedCandidate(t *testing.T) {
	r := NewRegistry()
	guard := safety.NewGuard(safety.NewMemoryStore(), 0)
	require.NoError(t, guard.Block(context.Background(), "alice", "bob", ""))

	rec := &pairRecorder{}
	m := NewMatchmaker(r, guard, MatchmakerConfig{OnPaired: rec.record})
	for _, id := range []string{"alice", "bob", "carol"} {
		searchingUser(t, r, id)
		m.enqueue(id)
	}
	m.matchPass(context.Background())

	// alice skips bob and pairs with carol; bob stays queued.
	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"alice", "carol"}, rec.pairs[0])
	assert.Equal(t, []string{"bob"}, m.queue)
}

func TestMatchPassIneligibleHeadDoesNotStallQueue(t *testing.T) {
	r := NewRegistry()
	guard := safety.NewGuard(safety.NewMemoryStore(), 0)
	ctx := context.Background()
	// alice has blocked everyone currently waiting.
	require.NoError(t, guard.Block(ctx, "alice", "bob", ""))
	require.NoError(t, guard.Block(ctx, "alice", "carol", ""))

	rec := &pairRecorder{}
	m := NewMatchmaker(r, guard, MatchmakerConfig{OnPaired: rec.record})
	for _, id := range []string{"alice", "bob", "carol"} {
		searchingUser(t, r, id)
		m.enqueue(id)
	}
	m.matchPass(ctx)

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"bob", "carol"}, rec.pairs[0])
	assert.Equal(t, []string{"alice"}, m.queue)
}

func TestMatchPassHonorsRematchCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := NewRegistry(WithRegistryClock(clock))
	rec := &pairRecorder{}
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{
		RematchCooldown: 30 * time.Second,
		OnPaired:        rec.record,
		Clock:           clock,
	})
	ctx := context.Background()

	searchingUser(t, r, "alice")
	searchingUser(t, r, "bob")
	require.NoError(t, r.Pair("alice", "bob"))
	_, err := r.Unpair("alice")
	require.NoError(t, err)

	// Both immediately search again with nobody else around.
	require.NoError(t, r.Transition("alice", StateSearching))
	require.NoError(t, r.Transition("bob", StateSearching))
	m.enqueue("alice")
	m.enqueue("bob")
	m.matchPass(ctx)
	assert.Empty(t, rec.pairs)

	// After the cooldown they are each other's match again.
	now = now.Add(31 * time.Second)
	m.matchPass(ctx)
	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, rec.pairs[0])
}

func TestEnqueueIsIdempotent(t *testing.T) {
	r := NewRegistry()
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{})
	searchingUser(t, r, "alice")

	m.enqueue("alice")
	m.enqueue("alice")
	assert.Equal(t, []string{"alice"}, m.queue)

	m.dequeue("alice")
	m.dequeue("alice")
	assert.Empty(t, m.queue)
}

func TestMatchPassClearsStaleEntry(t *testing.T) {
	r := NewRegistry()
	rec := &pairRecorder{}
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{OnPaired: rec.record})

	searchingUser(t, r, "alice")
	searchingUser(t, r, "bob")
	searchingUser(t, r, "carol")
	m.enqueue("alice")
	m.enqueue("bob")
	m.enqueue("carol")

	// bob left the searching state out of band; his queue entry is stale.
	require.NoError(t, r.Transition("bob", StateIdle))
	m.matchPass(context.Background())

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"alice", "carol"}, rec.pairs[0])
}

func TestRunPairsThroughIntentChannel(t *testing.T) {
	r := NewRegistry()
	paired := make(chan [2]string, 1)
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{
		OnPaired: func(a, b string) { paired <- [2]string{a, b} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	searchingUser(t, r, "alice")
	m.Enqueue("alice")
	searchingUser(t, r, "bob")
	m.Enqueue("bob")

	select {
	case p := <-paired:
		assert.Equal(t, [2]string{"alice", "bob"}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no pairing happened")
	}
}

func TestKeepaliveRenotifiesWaiters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := NewRegistry(WithRegistryClock(clock))

	var notified []string
	m := NewMatchmaker(r, allowAll{}, MatchmakerConfig{
		SearchKeepalive: 15 * time.Second,
		OnSearching:     func(id string) { notified = append(notified, id) },
		Clock:           clock,
	})
	searchingUser(t, r, "alice")
	m.enqueue("alice")

	m.keepaliveSweep()
	assert.Empty(t, notified, "too soon for a keepalive")

	now = now.Add(16 * time.Second)
	m.keepaliveSweep()
	assert.Equal(t, []string{"alice"}, notified)
}
