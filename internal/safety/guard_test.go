package safety

import (
	"context"
	"testing"

	"driftchat/internal/database"
	"driftchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eachStore runs the test against both Store implementations so the memory
// store used in tests cannot drift from the database-backed one.
func eachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("gorm", func(t *testing.T) {
		db, err := database.ConnectTest()
		require.NoError(t, err)
		fn(t, NewGormStore(db))
	})
}

func TestGuard_ReportCreatesPending(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		report, err := guard.Report(ctx, "alice", "bob", models.ReasonSpam, "  kept spamming links  ")
		require.NoError(t, err)
		assert.NotEmpty(t, report.ID)
		assert.Equal(t, models.ReportStatusPending, report.Status)
		assert.Equal(t, "kept spamming links", report.Description)
		assert.False(t, report.HighPriority)

		count, err := guard.PendingReportCount(ctx, "bob")
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}

func TestGuard_ReportValidation(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), 3)
	ctx := context.Background()

	_, err := guard.Report(ctx, "alice", "alice", models.ReasonSpam, "")
	assert.ErrorIs(t, err, ErrSelfTarget)

	_, err = guard.Report(ctx, "alice", "bob", models.ReportReason("bogus"), "")
	assert.ErrorIs(t, err, ErrInvalidReason)
}

func TestGuard_BlockIsDirectional(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		require.NoError(t, guard.Block(ctx, "alice", "bob", "rude"))

		// A blocking B denies both orderings of the pair...
		elig, err := guard.CanInteract(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.False(t, elig.Allowed)
		assert.Equal(t, ReasonBlocked, elig.Reason)

		elig, err = guard.CanInteract(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.False(t, elig.Allowed)

		// ...but only the single edge exists.
		blocks, err := guard.Blocks(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})
}

func TestGuard_BlockUnblockIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		require.NoError(t, guard.Block(ctx, "alice", "bob", ""))
		require.NoError(t, guard.Block(ctx, "alice", "bob", ""))

		blocks, err := guard.Blocks(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, blocks, 1)

		require.NoError(t, guard.Unblock(ctx, "alice", "bob"))
		require.NoError(t, guard.Unblock(ctx, "alice", "bob"))

		elig, err := guard.CanInteract(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, elig.Allowed)
	})
}

func TestGuard_RestrictionAtThreshold(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		reporters := []string{"r1", "r2", "r3"}
		var lastReportID string
		for i, reporter := range reporters {
			report, err := guard.Report(ctx, reporter, "mallory", models.ReasonHarassment, "")
			require.NoError(t, err)
			lastReportID = report.ID

			restricted, err := guard.IsRestricted(ctx, "mallory")
			require.NoError(t, err)
			assert.Equal(t, i == len(reporters)-1, restricted, "restricted only once the third report lands")
		}

		elig, err := guard.CanInteract(ctx, "mallory", "alice")
		require.NoError(t, err)
		assert.False(t, elig.Allowed)
		assert.Equal(t, ReasonRestricted, elig.Reason)

		// Resolving one report drops the pending count below the threshold
		// and eligibility returns without any action by the user.
		_, err = guard.SetReportStatus(ctx, lastReportID, models.ReportStatusResolved)
		require.NoError(t, err)

		elig, err = guard.CanInteract(ctx, "mallory", "alice")
		require.NoError(t, err)
		assert.True(t, elig.Allowed)
	})
}

func TestGuard_StatusTransitions(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), 3)
	ctx := context.Background()

	report, err := guard.Report(ctx, "alice", "bob", models.ReasonOther, "")
	require.NoError(t, err)

	// pending -> reviewed -> resolved is legal
	_, err = guard.SetReportStatus(ctx, report.ID, models.ReportStatusReviewed)
	require.NoError(t, err)
	updated, err := guard.SetReportStatus(ctx, report.ID, models.ReportStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusResolved, updated.Status)

	// resolved is terminal
	_, err = guard.SetReportStatus(ctx, report.ID, models.ReportStatusDismissed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// never back to pending
	_, err = guard.SetReportStatus(ctx, report.ID, models.ReportStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = guard.SetReportStatus(ctx, "no-such-id", models.ReportStatusResolved)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestGuard_EmergencyDisconnect(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		report, err := guard.EmergencyDisconnect(ctx, "alice", "mallory", models.ReasonHarassment)
		require.NoError(t, err)
		assert.True(t, report.HighPriority)
		assert.Equal(t, models.ReportStatusPending, report.Status)

		elig, err := guard.CanInteract(ctx, "alice", "mallory")
		require.NoError(t, err)
		assert.False(t, elig.Allowed)
		assert.Equal(t, ReasonBlocked, elig.Reason)
	})
}

func TestGuard_EraseUser(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		guard := NewGuard(store, 3)
		ctx := context.Background()

		_, err := guard.Report(ctx, "alice", "bob", models.ReasonSpam, "")
		require.NoError(t, err)
		_, err = guard.Report(ctx, "bob", "carol", models.ReasonSpam, "")
		require.NoError(t, err)
		require.NoError(t, guard.Block(ctx, "bob", "alice", ""))

		require.NoError(t, guard.EraseUser(ctx, "bob"))

		count, err := guard.PendingReportCount(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, count)
		count, err = guard.PendingReportCount(ctx, "carol")
		require.NoError(t, err)
		assert.Zero(t, count)

		elig, err := guard.CanInteract(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, elig.Allowed)
	})
}
