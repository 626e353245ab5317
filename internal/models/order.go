package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. Pending is the only non-terminal state.
const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
)

const OrderKindSubscription = "subscription"

// Order records one purchase attempt. Once paid or canceled it is immutable.
type Order struct {
	BaseModel

	UserID uint `json:"user_id" gorm:"index;not null"`

	Kind     string `json:"kind" gorm:"size:16;not null;default:'subscription'"`
	PlanCode string `json:"plan_code" gorm:"size:16"`
	Months   int    `json:"months"`

	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null;default:0"`
	Currency string          `json:"currency" gorm:"size:8;not null;default:'RUB'"`

	Provider          string `json:"provider" gorm:"size:16;not null;default:'manual'"`
	ProviderPaymentID string `json:"provider_payment_id" gorm:"size:128;index"`

	Status string     `json:"status" gorm:"size:16;not null;default:'pending';index"`
	PaidAt *time.Time `json:"paid_at"`

	Meta ProviderMeta `json:"meta" gorm:"type:text"`
}

// ProviderMeta is the provider-specific side channel carried by an order.
// One JSON column, one optional branch per provider; merges never drop a
// branch that is already set.
type ProviderMeta struct {
	YooKassa  *YooKassaMeta  `json:"yookassa,omitempty"`
	CryptoPay *CryptoPayMeta `json:"cryptopay,omitempty"`
	Promo     *PromoMeta     `json:"promo,omitempty"`
}

type YooKassaMeta struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type CryptoPayMeta struct {
	InvoiceID int64  `json:"invoice_id"`
	PayURL    string `json:"pay_url,omitempty"`
}

type PromoMeta struct {
	PromoID  uint   `json:"promo_id"`
	Code     string `json:"code,omitempty"`
	Discount string `json:"discount,omitempty"`
}

// Merge copies set branches from other into m without clearing branches that
// other leaves nil.
func (m *ProviderMeta) Merge(other ProviderMeta) {
	if other.YooKassa != nil {
		m.YooKassa = other.YooKassa
	}
	if other.CryptoPay != nil {
		m.CryptoPay = other.CryptoPay
	}
	if other.Promo != nil {
		m.Promo = other.Promo
	}
}

// Value implements driver.Valuer so GORM stores the meta as JSON text.
func (m ProviderMeta) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *ProviderMeta) Scan(value interface{}) error {
	if value == nil {
		*m = ProviderMeta{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*m = ProviderMeta{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = ProviderMeta{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported provider meta type %T", value)
	}
}
