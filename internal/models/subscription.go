package models

import (
	"time"
)

// Subscription is the single entitlement record per user (1:1, created
// lazily on first access). ExpiresAt == nil means the subscription has
// never been active.
type Subscription struct {
	BaseModel

	UserID uint `json:"user_id" gorm:"uniqueIndex;not null"`

	PlanCode     string `json:"plan_code" gorm:"size:16;not null;default:'trial'"`
	DevicesLimit int    `json:"devices_limit" gorm:"not null;default:1"`

	// TrialUsed is monotonic: once set it is never cleared, even after the
	// trial period lapses.
	TrialUsed bool `json:"trial_used" gorm:"not null;default:false"`

	StartedAt *time.Time `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}
