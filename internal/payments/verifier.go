package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the provider-agnostic payment state.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOther   Status = "other"
)

// Provider names as stored on orders.
const (
	ProviderYooKassa  = "yookassa"
	ProviderCryptoPay = "cryptopay"
	ProviderManual    = "manual"
)

// ProviderError signals a provider-side failure. Callers surface it as
// "try again later"; the order stays pending.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CreateRequest describes a payment to open with a provider.
type CreateRequest struct {
	OrderID     uint
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
}

// PaymentIntent is the provider's handle for an opened payment.
type PaymentIntent struct {
	ProviderRef string
	PayURL      string
}

// Verifier is implemented once per payment provider.
type Verifier interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*PaymentIntent, error)
	GetStatus(ctx context.Context, providerRef string) (Status, error)
}

// WebhookClaim is what a webhook delivery asserts about a payment. It must
// be validated against the local order before a "paid" signal is trusted.
type WebhookClaim struct {
	Provider    string
	ProviderRef string
	OrderID     uint
	Amount      decimal.Decimal
	Currency    string
}
