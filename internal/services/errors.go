package services

import (
	"errors"
)

// User-facing rejections. They are raised synchronously, before any state is
// mutated, and surfaced verbatim to the caller.
var (
	ErrTrialAlreadyUsed         = errors.New("trial already used")
	ErrActiveSubscriptionExists = errors.New("active subscription already exists")
	ErrDeviceLimitReached       = errors.New("device limit reached")
	ErrOrderAlreadyProcessed    = errors.New("order already processed")
	ErrUnknownPlan              = errors.New("unknown plan option")
	ErrPromoUnavailable         = errors.New("promo code not found or no longer available")
)
