package services

import (
	"errors"
	"fmt"
	"time"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/internal/models"

	"gorm.io/gorm"
)

// SubscriptionService owns the one entitlement record each user has and all
// expiry arithmetic on it.
type SubscriptionService struct {
	db         *gorm.DB
	trialHours int
	now        nowFunc
}

// NewSubscriptionService creates the subscription ledger.
func NewSubscriptionService(db *gorm.DB, cfg config.BillingConfig) *SubscriptionService {
	trialHours := cfg.TrialHours
	if trialHours <= 0 {
		trialHours = 48
	}
	return &SubscriptionService{
		db:         db,
		trialHours: trialHours,
		now:        nowUTC,
	}
}

// withDB returns a copy bound to another database handle, used to run inside
// the settlement transaction.
func (s *SubscriptionService) withDB(db *gorm.DB) *SubscriptionService {
	clone := *s
	clone.db = db
	return &clone
}

// GetOrCreate returns the user's subscription, creating an inactive
// trial-plan placeholder on first access.
func (s *SubscriptionService) GetOrCreate(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Where("user_id = ?", userID).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	trial := TrialOption()
	sub = models.Subscription{
		UserID:       userID,
		PlanCode:     trial.Code,
		DevicesLimit: trial.DevicesLimit,
		TrialUsed:    false,
	}
	if err := s.db.Create(&sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &sub, nil
}

// IsActive reports whether the subscription grants access right now.
func (s *SubscriptionService) IsActive(sub *models.Subscription) bool {
	if sub == nil || sub.ExpiresAt == nil {
		return false
	}
	return sub.ExpiresAt.After(s.now())
}

// ActivateTrial grants the one-shot trial. The trial flag is monotonic: it
// stays set even after the trial period lapses.
func (s *SubscriptionService) ActivateTrial(userID uint) (*models.Subscription, error) {
	sub, err := s.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	if sub.TrialUsed {
		return nil, ErrTrialAlreadyUsed
	}
	if s.IsActive(sub) && sub.PlanCode != PlanTrial {
		return nil, ErrActiveSubscriptionExists
	}

	trial := TrialOption()
	now := s.now()
	expires := now.Add(time.Duration(s.trialHours) * time.Hour)

	sub.PlanCode = trial.Code
	sub.DevicesLimit = trial.DevicesLimit
	sub.StartedAt = &now
	sub.ExpiresAt = &expires
	sub.TrialUsed = true

	if err := s.db.Save(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to activate trial: %w", err)
	}
	return sub, nil
}

// ApplyPlanPurchase applies a paid purchase or renewal. An active
// subscription is extended from its current expiry; an inactive one restarts
// from now. A renewal therefore never shortens remaining time.
func (s *SubscriptionService) ApplyPlanPurchase(userID uint, opt PlanOption) (time.Time, error) {
	sub, err := s.GetOrCreate(userID)
	if err != nil {
		return time.Time{}, err
	}

	now := s.now()
	startFrom := now
	wasActive := s.IsActive(sub)
	if wasActive {
		startFrom = *sub.ExpiresAt
	}
	newExpires := startFrom.Add(time.Duration(opt.DurationDays) * 24 * time.Hour)

	sub.PlanCode = opt.Code
	sub.DevicesLimit = opt.DevicesLimit
	if sub.StartedAt == nil || !wasActive {
		sub.StartedAt = &now
	}
	sub.ExpiresAt = &newExpires

	if err := s.db.Save(sub).Error; err != nil {
		return time.Time{}, fmt.Errorf("failed to apply plan purchase: %w", err)
	}
	return newExpires, nil
}

// extendBySeconds pushes the expiry forward with the same extend-if-active
// rule used by purchases. Used by the referral accountant.
func (s *SubscriptionService) extendBySeconds(sub *models.Subscription, seconds int64) time.Time {
	base := s.now()
	if s.IsActive(sub) {
		base = *sub.ExpiresAt
	}
	newExpires := base.Add(time.Duration(seconds) * time.Second)
	sub.ExpiresAt = &newExpires
	return newExpires
}
