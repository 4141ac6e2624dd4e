package signaling

import (
	"context"
	"log"
	"time"

	"driftchat/internal/observability"
	"driftchat/internal/safety"
)

const (
	// DefaultRematchCooldown is how long after an unpairing the same two
	// users cannot be matched again.
	DefaultRematchCooldown = 30 * time.Second

	// DefaultSearchKeepalive is how often waiting searchers are reminded the
	// search is still running. Searching never times out on its own.
	DefaultSearchKeepalive = 15 * time.Second
)

// EligibilityChecker is the slice of the safety guard the matchmaker needs.
type EligibilityChecker interface {
	CanInteract(ctx context.Context, userA, userB string) (safety.Eligibility, error)
}

type mmEventKind int

const (
	mmEnqueue mmEventKind = iota
	mmRemove
	mmWake
)

type mmEvent struct {
	kind mmEventKind
	id   string
}

// Matchmaker converts the pool of Searching sessions into pairs. A single
// goroutine owns the waiting queue and receives intents over a channel, so
// the queue needs no locking and pairing decisions are serialized. Matching
// is driven purely by arrival and departure events plus the keepalive tick;
// there is no polling loop.
type Matchmaker struct {
	registry *Registry
	guard    EligibilityChecker

	rematchCooldown time.Duration
	keepalive       time.Duration

	// onPaired and onSearching are invoked from the matchmaker goroutine.
	onPaired    func(userA, userB string)
	onSearching func(userID string)

	events     chan mmEvent
	queue      []string
	notifiedAt map[string]time.Time
	now        func() time.Time
}

// MatchmakerConfig carries the tunables and callbacks for a Matchmaker.
type MatchmakerConfig struct {
	RematchCooldown time.Duration
	SearchKeepalive time.Duration
	OnPaired        func(userA, userB string)
	OnSearching     func(userID string)
	Clock           func() time.Time
}

// NewMatchmaker creates a Matchmaker. Run must be started for it to do
// anything.
func NewMatchmaker(registry *Registry, guard EligibilityChecker, cfg MatchmakerConfig) *Matchmaker {
	m := &Matchmaker{
		registry:        registry,
		guard:           guard,
		rematchCooldown: cfg.RematchCooldown,
		keepalive:       cfg.SearchKeepalive,
		onPaired:        cfg.OnPaired,
		onSearching:     cfg.OnSearching,
		events:          make(chan mmEvent, 256),
		notifiedAt:      make(map[string]time.Time),
		now:             time.Now,
	}
	if m.rematchCooldown <= 0 {
		m.rematchCooldown = DefaultRematchCooldown
	}
	if m.keepalive <= 0 {
		m.keepalive = DefaultSearchKeepalive
	}
	if cfg.Clock != nil {
		m.now = cfg.Clock
	}
	return m
}

// Enqueue adds a searching user to the waiting queue and triggers a pass.
func (m *Matchmaker) Enqueue(userID string) {
	m.events <- mmEvent{kind: mmEnqueue, id: userID}
}

// Remove takes a user out of the waiting queue, if present. Called on
// disconnect and on successful out-of-band unpairing.
func (m *Matchmaker) Remove(userID string) {
	m.events <- mmEvent{kind: mmRemove, id: userID}
}

// Wake triggers a matchmaking pass without changing the queue. Called when
// safety or rate-limit state changed in a way that could unblock a wait.
func (m *Matchmaker) Wake() {
	select {
	case m.events <- mmEvent{kind: mmWake}:
	default:
		// A pass is already pending; another wake adds nothing.
	}
}

// Run owns the queue until the context is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(m.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			switch ev.kind {
			case mmEnqueue:
				m.enqueue(ev.id)
			case mmRemove:
				m.dequeue(ev.id)
			}
			m.matchPass(ctx)
		case <-ticker.C:
			m.keepaliveSweep()
		}
	}
}

func (m *Matchmaker) enqueue(userID string) {
	for _, id := range m.queue {
		if id == userID {
			return
		}
	}
	m.queue = append(m.queue, userID)
	m.notifiedAt[userID] = m.now()
	observability.WaitingQueueDepth.Set(float64(len(m.queue)))
}

func (m *Matchmaker) dequeue(userID string) {
	for i, id := range m.queue {
		if id == userID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			delete(m.notifiedAt, userID)
			break
		}
	}
	observability.WaitingQueueDepth.Set(float64(len(m.queue)))
}

// matchPass walks the queue oldest-first. For each waiter it scans forward
// for the first eligible candidate; queue order is the tie-break so the
// longest-waiting user gets matched first and worst-case wait stays bounded.
// An ineligible head does not stall the rest of the queue.
func (m *Matchmaker) matchPass(ctx context.Context) {
	i := 0
	for i < len(m.queue)-1 {
		self := m.queue[i]
		matched := false

		for j := i + 1; j < len(m.queue); j++ {
			candidate := m.queue[j]
			if !m.eligible(ctx, self, candidate) {
				continue
			}

			if err := m.registry.Pair(self, candidate); err != nil {
				// The registry is authoritative; a failure means one side
				// changed state behind our back. Skip the candidate; stale
				// queue entries are cleared by the Remove intent that
				// follows every disconnect.
				log.Printf("Matchmaker: pair %s/%s rejected: %v", self, candidate, err)
				continue
			}

			m.dequeue(candidate)
			m.dequeue(self)
			if m.onPaired != nil {
				m.onPaired(self, candidate)
			}
			matched = true
			break
		}

		if !matched {
			i++
		}
	}
}

func (m *Matchmaker) eligible(ctx context.Context, self, candidate string) bool {
	if m.registry.RematchBlocked(self, candidate, m.rematchCooldown) {
		observability.MatchRejections.WithLabelValues("rematch_cooldown").Inc()
		return false
	}

	elig, err := m.guard.CanInteract(ctx, self, candidate)
	if err != nil {
		log.Printf("Matchmaker: eligibility check %s/%s failed: %v", self, candidate, err)
		observability.MatchRejections.WithLabelValues("error").Inc()
		return false
	}
	if !elig.Allowed {
		observability.MatchRejections.WithLabelValues(string(elig.Reason)).Inc()
		return false
	}
	return true
}

// keepaliveSweep tells long-waiting searchers the search is still running.
// Waiting is open-ended; the notification replaces any timeout.
func (m *Matchmaker) keepaliveSweep() {
	if m.onSearching == nil {
		return
	}
	now := m.now()
	for _, id := range m.queue {
		if now.Sub(m.notifiedAt[id]) >= m.keepalive {
			m.notifiedAt[id] = now
			m.onSearching(id)
		}
	}
}
