package models

import (
	"github.com/shopspring/decimal"
)

// User is created on first contact from the messenger and never deleted.
type User struct {
	BaseModel

	TgID      int64  `json:"tg_id" gorm:"uniqueIndex;not null"`
	Username  string `json:"username" gorm:"size:64"`
	FirstName string `json:"first_name" gorm:"size:64"`
	Locale    string `json:"locale" gorm:"size:8"`

	IsBanned bool `json:"is_banned" gorm:"not null;default:false"`
	IsAdmin  bool `json:"is_admin" gorm:"not null;default:false"`

	// InviterID is a weak back-reference; the inviter does not own the user.
	InviterID    *uint  `json:"inviter_id" gorm:"index"`
	ReferralCode string `json:"referral_code" gorm:"size:32;uniqueIndex"`

	Balance decimal.Decimal `json:"balance" gorm:"type:decimal(12,2);not null;default:0"`
}
