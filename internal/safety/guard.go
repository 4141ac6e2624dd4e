package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"driftchat/internal/models"
	"driftchat/internal/observability"

	"github.com/google/uuid"
)

// DefaultRestrictThreshold is the number of pending reports against a user
// that suspends matching eligibility until moderation clears them.
const DefaultRestrictThreshold = 3

const maxDescriptionLen = 2000

var (
	ErrReportNotFound    = errors.New("report not found")
	ErrSelfTarget        = errors.New("user cannot target themselves")
	ErrInvalidReason     = errors.New("invalid report reason")
	ErrInvalidTransition = errors.New("invalid report status transition")
)

// EligibilityReason explains a CanInteract denial.
type EligibilityReason string

const (
	ReasonBlocked    EligibilityReason = "blocked"
	ReasonRestricted EligibilityReason = "restricted"
)

// Eligibility is the typed result of a pairwise interaction check.
type Eligibility struct {
	Allowed bool
	Reason  EligibilityReason
}

// Guard answers safety questions for the matchmaker and moderation surface.
// Restriction is recomputed from pending report counts on every check rather
// than stored as a flag, so it clears by itself when moderation resolves
// reports.
type Guard struct {
	store             Store
	restrictThreshold int64
}

// NewGuard creates a Guard over the given store. A non-positive threshold
// falls back to the default.
func NewGuard(store Store, restrictThreshold int) *Guard {
	if restrictThreshold <= 0 {
		restrictThreshold = DefaultRestrictThreshold
	}
	return &Guard{store: store, restrictThreshold: int64(restrictThreshold)}
}

// Report files an abuse report against reportedID. Rate limiting of the
// `reports` action is the caller's responsibility, before invoking this.
func (g *Guard) Report(ctx context.Context, reporterID, reportedID string, reason models.ReportReason, description string) (*models.SafetyReport, error) {
	return g.report(ctx, reporterID, reportedID, reason, description, false)
}

func (g *Guard) report(ctx context.Context, reporterID, reportedID string, reason models.ReportReason, description string, highPriority bool) (*models.SafetyReport, error) {
	if reporterID == reportedID {
		return nil, ErrSelfTarget
	}
	if !reason.Valid() {
		return nil, ErrInvalidReason
	}
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLen {
		description = description[:maxDescriptionLen]
	}

	report := &models.SafetyReport{
		ID:           uuid.NewString(),
		ReporterID:   reporterID,
		ReportedID:   reportedID,
		Reason:       reason,
		Description:  description,
		HighPriority: highPriority,
		Status:       models.ReportStatusPending,
	}
	if err := g.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	observability.ReportsFiled.WithLabelValues(string(reason)).Inc()
	return report, nil
}

// Block adds a one-directional block edge. Idempotent.
func (g *Guard) Block(ctx context.Context, userID, targetID, reason string) error {
	if userID == targetID {
		return ErrSelfTarget
	}
	block := &models.UserBlock{BlockerID: userID, BlockedID: targetID, Reason: strings.TrimSpace(reason)}
	if err := g.store.UpsertBlock(ctx, block); err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	observability.BlocksTotal.Inc()
	return nil
}

// Unblock removes the block edge from userID to targetID. Idempotent.
func (g *Guard) Unblock(ctx context.Context, userID, targetID string) error {
	return g.store.DeleteBlock(ctx, userID, targetID)
}

// Blocks lists the users blocked by userID.
func (g *Guard) Blocks(ctx context.Context, userID string) ([]models.UserBlock, error) {
	return g.store.ListBlocks(ctx, userID)
}

// CanInteract reports whether a and b may be paired. Denied when a block
// exists in either direction, or when either side is currently restricted by
// pending report volume.
func (g *Guard) CanInteract(ctx context.Context, userA, userB string) (Eligibility, error) {
	for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
		blocked, err := g.store.HasBlock(ctx, pair[0], pair[1])
		if err != nil {
			return Eligibility{}, fmt.Errorf("check block: %w", err)
		}
		if blocked {
			return Eligibility{Reason: ReasonBlocked}, nil
		}
	}

	for _, id := range []string{userA, userB} {
		restricted, err := g.IsRestricted(ctx, id)
		if err != nil {
			return Eligibility{}, err
		}
		if restricted {
			return Eligibility{Reason: ReasonRestricted}, nil
		}
	}

	return Eligibility{Allowed: true}, nil
}

// IsRestricted recomputes the report-threshold restriction for the user.
func (g *Guard) IsRestricted(ctx context.Context, userID string) (bool, error) {
	pending, err := g.store.CountPendingReports(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("count pending reports: %w", err)
	}
	return pending >= g.restrictThreshold, nil
}

// PendingReportCount returns the number of unresolved reports against the user.
func (g *Guard) PendingReportCount(ctx context.Context, userID string) (int64, error) {
	return g.store.CountPendingReports(ctx, userID)
}

// EmergencyDisconnect blocks the target and files a high-priority report in
// one call, for users who want to cut off and flag a partner in one action.
func (g *Guard) EmergencyDisconnect(ctx context.Context, userID, targetID string, reason models.ReportReason) (*models.SafetyReport, error) {
	if err := g.Block(ctx, userID, targetID, "emergency disconnect"); err != nil {
		return nil, err
	}
	return g.report(ctx, userID, targetID, reason, "filed via emergency disconnect", true)
}

// SetReportStatus applies a moderation transition. Reports never return to
// pending, and closed reports stay closed.
func (g *Guard) SetReportStatus(ctx context.Context, reportID string, status models.ReportStatus) (*models.SafetyReport, error) {
	if !status.Valid() || status == models.ReportStatusPending {
		return nil, ErrInvalidTransition
	}

	report, err := g.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch report.Status {
	case models.ReportStatusPending:
		// any non-pending target is fine
	case models.ReportStatusReviewed:
		if status != models.ReportStatusResolved && status != models.ReportStatusDismissed {
			return nil, ErrInvalidTransition
		}
	default:
		return nil, ErrInvalidTransition
	}

	if err := g.store.UpdateReportStatus(ctx, reportID, status); err != nil {
		return nil, err
	}
	report.Status = status
	return report, nil
}

// ListReports exposes the moderation queue.
func (g *Guard) ListReports(ctx context.Context, status models.ReportStatus, limit, offset int) ([]models.SafetyReport, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return g.store.ListReports(ctx, status, limit, offset)
}

// EraseUser deletes all safety records tied to the user, in both roles.
func (g *Guard) EraseUser(ctx context.Context, userID string) error {
	return g.store.EraseUser(ctx, userID)
}
