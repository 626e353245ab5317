package models

import (
	"time"
)

// ReferralEvent is an append-only ledger row. At most one non-reversed event
// exists per order; that uniqueness is the idempotency guard for bonus
// granting. AppliedSeconds may be clipped to 0 by the window cap while
// BonusSeconds keeps the nominal value for audit.
type ReferralEvent struct {
	BaseModel

	InviterID      uint `json:"inviter_id" gorm:"index;not null"`
	ReferralUserID uint `json:"referral_user_id" gorm:"index;not null"`
	OrderID        uint `json:"order_id" gorm:"index;not null"`

	BonusSeconds   int64 `json:"bonus_seconds" gorm:"not null;default:0"`
	AppliedSeconds int64 `json:"applied_seconds" gorm:"not null;default:0"`

	ReversedAt     *time.Time `json:"reversed_at"`
	ReversalReason string     `json:"reversal_reason" gorm:"type:text"`
}

// ReferralWindow is the inviter's current rolling 30-day accounting window.
// It rolls over lazily: a fresh window is opened only when a bonus-triggering
// event occurs after WindowEndAt has passed.
type ReferralWindow struct {
	InviterID uint `json:"inviter_id" gorm:"primaryKey"`

	WindowStartAt time.Time `json:"window_start_at" gorm:"not null"`
	WindowEndAt   time.Time `json:"window_end_at" gorm:"not null"`

	AppliedSeconds int64 `json:"applied_seconds" gorm:"not null;default:0"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
