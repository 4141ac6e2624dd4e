package safety

import (
	"context"
	"errors"

	"driftchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the database-backed Store used in production so reports and
// blocks survive restarts, unlike live session state.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by the given database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateReport(ctx context.Context, report *models.SafetyReport) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GormStore) GetReport(ctx context.Context, id string) (*models.SafetyReport, error) {
	var report models.SafetyReport
	if err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

func (s *GormStore) UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.SafetyReport{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *GormStore) CountPendingReports(ctx context.Context, reportedID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.SafetyReport{}).
		Where("reported_id = ? AND status = ?", reportedID, models.ReportStatusPending).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ListReports(ctx context.Context, status models.ReportStatus, limit, offset int) ([]models.SafetyReport, error) {
	query := s.db.WithContext(ctx).Model(&models.SafetyReport{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var reports []models.SafetyReport
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reports).Error
	return reports, err
}

func (s *GormStore) UpsertBlock(ctx context.Context, block *models.UserBlock) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(block).Error
}

func (s *GormStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) error {
	return s.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.UserBlock{}).Error
}

func (s *GormStore) HasBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserBlock{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) ListBlocks(ctx context.Context, blockerID string) ([]models.UserBlock, error) {
	var blocks []models.UserBlock
	err := s.db.WithContext(ctx).
		Where("blocker_id = ?", blockerID).
		Order("created_at DESC").
		Find(&blocks).Error
	return blocks, err
}

func (s *GormStore) EraseUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reporter_id = ? OR reported_id = ?", userID, userID).
			Delete(&models.SafetyReport{}).Error; err != nil {
			return err
		}
		return tx.Where("blocker_id = ? OR blocked_id = ?", userID, userID).
			Delete(&models.UserBlock{}).Error
	})
}
