package services

import (
	"errors"
	"fmt"
	"time"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/pkg/logging"

	"gorm.io/gorm"
)

const (
	hourSeconds = 3600
	daySeconds  = 24 * hourSeconds

	// ReferralWindowDays is the length of one rolling accounting window.
	ReferralWindowDays = 30
	// ReferralCapSeconds caps the bonus applied within one window.
	ReferralCapSeconds = 15 * daySeconds
)

type bonusKey struct {
	PlanCode string
	Months   int
}

// bonusMatrix maps (purchased plan, months bucket) to bonus seconds per
// inviter tier. Buckets collapse adjacent tenures: start/pro 6 and 12 months
// share one bucket, family 3 and 6 months share one bucket.
var bonusMatrix = map[bonusKey]map[string]int64{
	{PlanStart, 1}: {PlanStart: 1 * daySeconds, PlanPro: 12 * hourSeconds, PlanFamily: 3 * hourSeconds},
	{PlanStart, 3}: {PlanStart: 36 * hourSeconds, PlanPro: 12 * hourSeconds, PlanFamily: 6 * hourSeconds},
	{PlanStart, 6}: {PlanStart: 3 * daySeconds, PlanPro: 2 * daySeconds, PlanFamily: 1 * daySeconds},

	{PlanPro, 1}: {PlanStart: 2 * daySeconds, PlanPro: 1 * daySeconds, PlanFamily: 12 * hourSeconds},
	{PlanPro, 3}: {PlanStart: 2 * daySeconds, PlanPro: 1 * daySeconds, PlanFamily: 12 * hourSeconds},
	{PlanPro, 6}: {PlanStart: 3 * daySeconds, PlanPro: 2 * daySeconds, PlanFamily: 1 * daySeconds},

	{PlanFamily, 3}:  {PlanStart: 5 * daySeconds, PlanPro: 3 * daySeconds, PlanFamily: 2 * daySeconds},
	{PlanFamily, 12}: {PlanStart: 7 * daySeconds, PlanPro: 5 * daySeconds, PlanFamily: 3 * daySeconds},
}

// monthsBucket collapses tenures that share a bonus row.
func monthsBucket(planCode string, months int) int {
	switch planCode {
	case PlanStart, PlanPro:
		if months == 6 || months == 12 {
			return 6
		}
	case PlanFamily:
		if months == 3 || months == 6 {
			return 3
		}
	}
	return months
}

// ReferralService grants and reverses capped, windowed referral bonuses as
// ledger entries.
type ReferralService struct {
	db   *gorm.DB
	subs *SubscriptionService
	now  nowFunc
}

// NewReferralService creates the referral accountant.
func NewReferralService(db *gorm.DB, subs *SubscriptionService) *ReferralService {
	return &ReferralService{
		db:   db,
		subs: subs,
		now:  nowUTC,
	}
}

// inviterTier resolves the rate tier from the inviter's current subscription.
// Inactive, trial or unknown plans earn the baseline start-tier rate.
func (s *ReferralService) inviterTier(sub *models.Subscription) string {
	if !s.subs.IsActive(sub) {
		return PlanStart
	}
	if IsPaidPlan(sub.PlanCode) {
		return sub.PlanCode
	}
	return PlanStart
}

// BonusSeconds returns the nominal bonus for a purchase, before capping.
func BonusSeconds(inviterTier, planCode string, months int) int64 {
	row, ok := bonusMatrix[bonusKey{planCode, monthsBucket(planCode, months)}]
	if !ok {
		return 0
	}
	return row[inviterTier]
}

// MaybeGrant applies the referral bonus for a freshly paid order. It is a
// no-op when the order is not a paid subscription order, the buyer has no
// inviter, or a ReferralEvent already exists for the order (the idempotency
// guard that makes repeated settlement calls safe). Returns the applied
// seconds, 0 when nothing was credited.
func (s *ReferralService) MaybeGrant(referralUserID uint, order *models.Order) (int64, error) {
	if order.Kind != models.OrderKindSubscription || order.Status != models.OrderStatusPaid {
		return 0, nil
	}

	var referralUser models.User
	if err := s.db.First(&referralUser, referralUserID).Error; err != nil {
		return 0, fmt.Errorf("failed to load referral user: %w", err)
	}
	if referralUser.InviterID == nil {
		return 0, nil
	}
	inviterID := *referralUser.InviterID

	// Ledger row, subscription extension and window counter commit as one
	// unit: a partial grant would leave a ReferralEvent that blocks retries
	// without the inviter ever receiving the time.
	var (
		applied      int64
		bonusSeconds int64
		tier         string
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.ReferralEvent
		err := tx.Where("order_id = ?", order.ID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check referral event: %w", err)
		}

		inviterSub, err := s.subs.withDB(tx).GetOrCreate(inviterID)
		if err != nil {
			return err
		}
		tier = s.inviterTier(inviterSub)

		bonusSeconds = BonusSeconds(tier, order.PlanCode, order.Months)
		if bonusSeconds <= 0 {
			return nil
		}

		now := s.now()

		window, err := s.currentWindow(tx, inviterID)
		if err != nil {
			return err
		}
		if window == nil || !window.WindowEndAt.After(now) {
			window = &models.ReferralWindow{
				InviterID:      inviterID,
				WindowStartAt:  now,
				WindowEndAt:    now.Add(ReferralWindowDays * 24 * time.Hour),
				AppliedSeconds: 0,
			}
			if err := tx.Save(window).Error; err != nil {
				return fmt.Errorf("failed to open referral window: %w", err)
			}
		}

		// Clip to the headroom left under the cap; bonuses are never
		// deferred into a future window.
		remaining := ReferralCapSeconds - window.AppliedSeconds
		applied = bonusSeconds
		if applied > remaining {
			applied = remaining
		}
		if applied < 0 {
			applied = 0
		}

		// The ledger row is written even when applied is 0, for audit.
		event := models.ReferralEvent{
			InviterID:      inviterID,
			ReferralUserID: referralUserID,
			OrderID:        order.ID,
			BonusSeconds:   bonusSeconds,
			AppliedSeconds: applied,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record referral event: %w", err)
		}

		if applied > 0 {
			s.subs.extendBySeconds(inviterSub, applied)
			// Receiving a bonus promotes an unpaid or trial inviter to
			// the start plan.
			if !IsPaidPlan(inviterSub.PlanCode) {
				startOpt, _ := GetPlanOption(PlanStart, 1)
				inviterSub.PlanCode = PlanStart
				inviterSub.DevicesLimit = startOpt.DevicesLimit
			}
			if err := tx.Save(inviterSub).Error; err != nil {
				return fmt.Errorf("failed to extend inviter subscription: %w", err)
			}

			window.AppliedSeconds += applied
			if err := tx.Save(window).Error; err != nil {
				return fmt.Errorf("failed to update referral window: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if bonusSeconds > 0 {
		logging.Infof("Referral bonus for order %d: inviter=%d tier=%s nominal=%ds applied=%ds",
			order.ID, inviterID, tier, bonusSeconds, applied)
	}
	return applied, nil
}

// Rollback reverses the applied bonus of an order, for refund and chargeback
// workflows. The inviter's expiry is reduced but never moved earlier than
// now, and the window counter is decremented only when the event still falls
// within the current window's span. Returns the reversed seconds.
func (s *ReferralService) Rollback(orderID uint, reason string) (int64, error) {
	// Expiry reduction, window decrement and the reversal stamp commit as
	// one unit so a failed rollback leaves the grant fully intact and
	// retryable.
	var (
		applied   int64
		inviterID uint
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var event models.ReferralEvent
		err := tx.Where("order_id = ? AND reversed_at IS NULL", orderID).First(&event).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load referral event: %w", err)
		}
		if event.AppliedSeconds <= 0 {
			return nil
		}

		now := s.now()
		applied = event.AppliedSeconds
		inviterID = event.InviterID

		sub, err := s.subs.withDB(tx).GetOrCreate(event.InviterID)
		if err != nil {
			return err
		}
		if sub.ExpiresAt != nil {
			newExpires := sub.ExpiresAt.Add(-time.Duration(applied) * time.Second)
			if newExpires.Before(now) {
				newExpires = now
			}
			sub.ExpiresAt = &newExpires
			if err := tx.Save(sub).Error; err != nil {
				return fmt.Errorf("failed to reduce inviter expiry: %w", err)
			}
		}

		window, err := s.currentWindow(tx, event.InviterID)
		if err != nil {
			return err
		}
		if window != nil && !event.CreatedAt.Before(window.WindowStartAt) && !event.CreatedAt.After(window.WindowEndAt) {
			window.AppliedSeconds -= applied
			if window.AppliedSeconds < 0 {
				window.AppliedSeconds = 0
			}
			if err := tx.Save(window).Error; err != nil {
				return fmt.Errorf("failed to update referral window: %w", err)
			}
		}

		event.ReversedAt = &now
		event.ReversalReason = reason
		if err := tx.Save(&event).Error; err != nil {
			return fmt.Errorf("failed to mark referral event reversed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 {
		logging.Infof("Referral bonus rolled back for order %d: inviter=%d seconds=%d reason=%s",
			orderID, inviterID, applied, reason)
	}
	return applied, nil
}

// ReferralStats summarizes an inviter's referral standing.
type ReferralStats struct {
	InvitedCount     int64      `json:"invited_count"`
	AppliedSeconds   int64      `json:"applied_seconds"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	WindowEndAt      *time.Time `json:"window_end_at,omitempty"`
}

// Stats reports the invited-user count and the state of the current window.
func (s *ReferralService) Stats(inviterID uint) (*ReferralStats, error) {
	var invited int64
	if err := s.db.Model(&models.User{}).Where("inviter_id = ?", inviterID).Count(&invited).Error; err != nil {
		return nil, fmt.Errorf("failed to count invited users: %w", err)
	}

	stats := &ReferralStats{
		InvitedCount:     invited,
		RemainingSeconds: ReferralCapSeconds,
	}

	window, err := s.currentWindow(s.db, inviterID)
	if err != nil {
		return nil, err
	}
	if window != nil && window.WindowEndAt.After(s.now()) {
		stats.AppliedSeconds = window.AppliedSeconds
		stats.RemainingSeconds = ReferralCapSeconds - window.AppliedSeconds
		if stats.RemainingSeconds < 0 {
			stats.RemainingSeconds = 0
		}
		end := window.WindowEndAt
		stats.WindowEndAt = &end
	}
	return stats, nil
}

func (s *ReferralService) currentWindow(db *gorm.DB, inviterID uint) (*models.ReferralWindow, error) {
	var window models.ReferralWindow
	err := db.Where("inviter_id = ?", inviterID).First(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load referral window: %w", err)
	}
	return &window, nil
}
