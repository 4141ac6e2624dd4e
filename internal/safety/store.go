// Package safety owns abuse reports, block relations, and the interaction
// eligibility derived from them.
package safety

import (
	"context"
	"sort"
	"sync"

	"driftchat/internal/models"
)

// Store persists safety records keyed by durable user IDs. The in-memory
// implementation backs tests; the GORM implementation backs production.
type Store interface {
	CreateReport(ctx context.Context, report *models.SafetyReport) error
	GetReport(ctx context.Context, id string) (*models.SafetyReport, error)
	UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus) error
	CountPendingReports(ctx context.Context, reportedID string) (int64, error)
	ListReports(ctx context.Context, status models.ReportStatus, limit, offset int) ([]models.SafetyReport, error)

	UpsertBlock(ctx context.Context, block *models.UserBlock) error
	DeleteBlock(ctx context.Context, blockerID, blockedID string) error
	HasBlock(ctx context.Context, blockerID, blockedID string) (bool, error)
	ListBlocks(ctx context.Context, blockerID string) ([]models.UserBlock, error)

	// EraseUser removes every record tied to the user, in either role.
	// Supports explicit data-erasure requests only.
	EraseUser(ctx context.Context, userID string) error
}

type blockKey struct {
	blocker string
	blocked string
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]models.SafetyReport
	blocks  map[blockKey]models.UserBlock
	seq     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]models.SafetyReport),
		blocks:  make(map[blockKey]models.UserBlock),
	}
}

func (s *MemoryStore) CreateReport(_ context.Context, report *models.SafetyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	r := *report
	s.reports[r.ID] = r
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*models.SafetyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	out := r
	return &out, nil
}

func (s *MemoryStore) UpdateReportStatus(_ context.Context, id string, status models.ReportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return ErrReportNotFound
	}
	r.Status = status
	s.reports[id] = r
	return nil
}

func (s *MemoryStore) CountPendingReports(_ context.Context, reportedID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.reports {
		if r.ReportedID == reportedID && r.Status == models.ReportStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListReports(_ context.Context, status models.ReportStatus, limit, offset int) ([]models.SafetyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SafetyReport, 0, len(s.reports))
	for _, r := range s.reports {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertBlock(_ context.Context, block *models.UserBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blockKey{blocker: block.BlockerID, blocked: block.BlockedID}
	if _, exists := s.blocks[key]; exists {
		return nil
	}
	s.blocks[key] = *block
	return nil
}

func (s *MemoryStore) DeleteBlock(_ context.Context, blockerID, blockedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{blocker: blockerID, blocked: blockedID})
	return nil
}

func (s *MemoryStore) HasBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[blockKey{blocker: blockerID, blocked: blockedID}]
	return ok, nil
}

func (s *MemoryStore) ListBlocks(_ context.Context, blockerID string) ([]models.UserBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UserBlock
	for key, b := range s.blocks {
		if key.blocker == blockerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedID < out[j].BlockedID })
	return out, nil
}

func (s *MemoryStore) EraseUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.reports {
		if r.ReporterID == userID || r.ReportedID == userID {
			delete(s.reports, id)
		}
	}
	for key := range s.blocks {
		if key.blocker == userID || key.blocked == userID {
			delete(s.blocks, key)
		}
	}
	return nil
}
