package models

import "time"

// UserBlock is a directed block edge from BlockerID to BlockedID. Blocking is
// not symmetric: eligibility checks must look at both directions explicitly.
type UserBlock struct {
	BlockerID string    `gorm:"primaryKey;autoIncrement:false;size:64" json:"blocker_id"`
	BlockedID string    `gorm:"primaryKey;autoIncrement:false;size:64" json:"blocked_id"`
	Reason    string    `gorm:"type:text;default:''" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (UserBlock) TableName() string {
	return "user_blocks"
}
