package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Promo is a discount code managed by admins.
type Promo struct {
	BaseModel

	Code      string          `json:"code" gorm:"size:32;uniqueIndex;not null"`
	Discount  decimal.Decimal `json:"discount" gorm:"type:decimal(12,2);not null;default:0"`
	MaxUses   int             `json:"max_uses" gorm:"not null;default:0"`
	UsedCount int             `json:"used_count" gorm:"not null;default:0"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
}

// PromoRedemption records a code being spent: at most once per user and at
// most once per order.
type PromoRedemption struct {
	BaseModel

	PromoID    uint      `json:"promo_id" gorm:"index;not null"`
	UserID     uint      `json:"user_id" gorm:"index;not null"`
	OrderID    uint      `json:"order_id" gorm:"uniqueIndex;not null"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
