package models

import "time"

// ReportReason enumerates why a user was reported.
type ReportReason string

const (
	ReasonHarassment    ReportReason = "harassment"
	ReasonInappropriate ReportReason = "inappropriate_content"
	ReasonSpam          ReportReason = "spam"
	ReasonUnderage      ReportReason = "underage"
	ReasonOther         ReportReason = "other"
)

// Valid reports whether the reason is one of the known enum values.
func (r ReportReason) Valid() bool {
	switch r {
	case ReasonHarassment, ReasonInappropriate, ReasonSpam, ReasonUnderage, ReasonOther:
		return true
	}
	return false
}

// ReportStatus is the moderation lifecycle state of a report.
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusReviewed  ReportStatus = "reviewed"
	ReportStatusResolved  ReportStatus = "resolved"
	ReportStatusDismissed ReportStatus = "dismissed"
)

// Valid reports whether the status is one of the known enum values.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusReviewed, ReportStatusResolved, ReportStatusDismissed:
		return true
	}
	return false
}

// SafetyReport is an immutable abuse report against a user. Only its status
// changes after creation (moderation transitions); rows are deleted solely by
// an explicit data-erasure request.
type SafetyReport struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	ReporterID   string       `gorm:"not null;index;size:64" json:"reporter_id"`
	ReportedID   string       `gorm:"not null;index;size:64" json:"reported_id"`
	Reason       ReportReason `gorm:"not null;size:32" json:"reason"`
	Description  string       `gorm:"type:text;default:''" json:"description"`
	HighPriority bool         `gorm:"not null;default:false" json:"high_priority"`
	Status       ReportStatus `gorm:"not null;index;size:16;default:pending" json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (SafetyReport) TableName() string {
	return "safety_reports"
}
