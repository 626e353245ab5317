package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/payments"
	"vpn-billing-api/pkg/logging"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderService is the settlement engine: the order state machine and the
// single idempotent entry point that turns a confirmed payment into
// subscription time, device state and bonus ledger entries.
type OrderService struct {
	db        *gorm.DB
	subs      *SubscriptionService
	devices   *DeviceService
	referrals *ReferralService
	promos    *PromoService
	alerts    *AlertService
	now       nowFunc
}

// NewOrderService creates the settlement engine.
func NewOrderService(db *gorm.DB, subs *SubscriptionService, devices *DeviceService, referrals *ReferralService, promos *PromoService, alerts *AlertService) *OrderService {
	return &OrderService{
		db:        db,
		subs:      subs,
		devices:   devices,
		referrals: referrals,
		promos:    promos,
		alerts:    alerts,
		now:       nowUTC,
	}
}

// CreateOrder opens a pending subscription order. The amount defaults to the
// catalog price; a non-nil override carries a promo-discounted total.
func (s *OrderService) CreateOrder(userID uint, planCode string, months int, provider string, amount *decimal.Decimal, meta models.ProviderMeta) (*models.Order, error) {
	opt, err := GetPlanOption(planCode, months)
	if err != nil {
		return nil, err
	}

	finalAmount := opt.Price
	if amount != nil {
		finalAmount = *amount
	}

	order := models.Order{
		UserID:   userID,
		Kind:     models.OrderKindSubscription,
		PlanCode: planCode,
		Months:   months,
		Amount:   finalAmount,
		Currency: "RUB",
		Provider: provider,
		Status:   models.OrderStatusPending,
		Meta:     meta,
	}
	if err := s.db.Create(&order).Error; err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &order, nil
}

// GetOrder loads one order.
func (s *OrderService) GetOrder(orderID uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ListPendingOrders returns the newest pending orders.
func (s *OrderService) ListPendingOrders(limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []models.Order
	err := s.db.Where("status = ?", models.OrderStatusPending).
		Order("id desc").Limit(limit).Find(&orders).Error
	return orders, err
}

// AttachProviderPayment records the provider's payment handle on a pending
// order, merging the meta side channel non-destructively.
func (s *OrderService) AttachProviderPayment(order *models.Order, providerRef string, meta models.ProviderMeta) error {
	order.ProviderPaymentID = providerRef
	order.Meta.Merge(meta)
	if err := s.db.Save(order).Error; err != nil {
		return fmt.Errorf("failed to attach provider payment: %w", err)
	}
	return nil
}

// CancelOrder moves a pending order to canceled. Paid and canceled are both
// terminal.
func (s *OrderService) CancelOrder(orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockOrder(tx, orderID, &order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return ErrOrderAlreadyProcessed
		}
		order.Status = models.OrderStatusCanceled
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelStaleOrders cancels pending orders older than maxAge. Run from cron.
func (s *OrderService) CancelStaleOrders(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	var stale []models.Order
	err := s.db.Where("status = ? AND created_at < ?", models.OrderStatusPending, cutoff).Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	canceled := 0
	for _, order := range stale {
		if _, err := s.CancelOrder(order.ID); err != nil {
			if errors.Is(err, ErrOrderAlreadyProcessed) {
				continue
			}
			return canceled, err
		}
		canceled++
	}
	return canceled, nil
}

// MarkOrderPaid settles an order. It is the idempotent entry point invoked
// from every trigger: user-initiated polling, provider webhooks and admin
// manual confirmation.
//
// Plan resolution, the subscription extension, device sync and the paid
// commit run in one transaction holding a row lock on the order, so two
// concurrent settlements serialize and the loser short-circuits on the paid
// status. Referral bonus and promo redemption run after the commit, each
// guarded by its own per-order idempotency check; their failures never undo
// a committed settlement.
func (s *OrderService) MarkOrderPaid(ctx context.Context, orderID uint) (time.Time, []string, error) {
	var (
		order       models.Order
		newExpires  time.Time
		notes       []string
		alreadyPaid bool
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockOrder(tx, orderID, &order); err != nil {
			return err
		}

		switch order.Status {
		case models.OrderStatusPaid:
			alreadyPaid = true
			sub, err := s.subs.withDB(tx).GetOrCreate(order.UserID)
			if err != nil {
				return err
			}
			if sub.ExpiresAt != nil {
				newExpires = *sub.ExpiresAt
			} else {
				newExpires = s.now()
			}
			notes = append(notes, "already_paid")
			return nil
		case models.OrderStatusCanceled:
			return ErrOrderAlreadyProcessed
		}

		opt, err := GetPlanOption(order.PlanCode, order.Months)
		if err != nil {
			return err
		}

		newExpires, err = s.subs.withDB(tx).ApplyPlanPurchase(order.UserID, opt)
		if err != nil {
			return err
		}

		txDevices := s.devices.withDB(tx)
		failed, err := txDevices.SyncDevicesExpire(ctx, order.UserID, newExpires.Unix())
		if err != nil {
			return err
		}
		if failed > 0 {
			notes = append(notes, "panel_sync_failed")
		}

		disabled, err := txDevices.EnforceDeviceLimit(ctx, order.UserID, opt.DevicesLimit)
		if err != nil {
			return err
		}
		if len(disabled) > 0 {
			notes = append(notes, fmt.Sprintf("disabled_%d_devices", len(disabled)))
		}

		now := s.now()
		order.Status = models.OrderStatusPaid
		order.PaidAt = &now
		return tx.Save(&order).Error
	})
	if err != nil {
		return time.Time{}, nil, err
	}
	if alreadyPaid {
		return newExpires, notes, nil
	}

	// Post-commit side effects. The order is settled at this point; these
	// are retried independently and alerted on, never escalated.
	applied, err := s.referrals.MaybeGrant(order.UserID, &order)
	if err != nil {
		logging.Errorf("Referral grant failed for order %d: %v", order.ID, err)
		s.alerts.NotifySettlementIssue(order.ID, "referral_grant", err)
		notes = append(notes, "ref_bonus_failed")
	} else if applied > 0 {
		notes = append(notes, "ref_bonus="+strconv.FormatInt(applied, 10)+"s")
	}

	redeemed, err := s.promos.RedeemForOrder(&order)
	if err != nil {
		logging.Errorf("Promo redemption failed for order %d: %v", order.ID, err)
		s.alerts.NotifySettlementIssue(order.ID, "promo_redemption", err)
		notes = append(notes, "promo_failed")
	} else if redeemed {
		notes = append(notes, "promo_redeemed")
	}

	logging.Infof("Order %d settled: user=%d plan=%s/%dm expires=%s notes=%v",
		order.ID, order.UserID, order.PlanCode, order.Months, newExpires.Format(time.RFC3339), notes)
	return newExpires, notes, nil
}

// FindOrderForClaim resolves the local order a webhook delivery refers to,
// preferring the embedded order id and falling back to the provider's
// payment reference.
func (s *OrderService) FindOrderForClaim(claim payments.WebhookClaim) (*models.Order, error) {
	if claim.OrderID != 0 {
		return s.GetOrder(claim.OrderID)
	}
	if claim.ProviderRef == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var order models.Order
	err := s.db.Where("provider = ? AND provider_payment_id = ?", claim.Provider, claim.ProviderRef).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ValidateWebhookClaim cross-checks a webhook delivery against the local
// order before its "paid" signal is trusted. Guards against forged or
// mismatched deliveries.
func (s *OrderService) ValidateWebhookClaim(order *models.Order, claim payments.WebhookClaim) error {
	if claim.Provider != "" && order.Provider != claim.Provider {
		return fmt.Errorf("provider mismatch: order has %q, claim has %q", order.Provider, claim.Provider)
	}
	if claim.ProviderRef != "" && order.ProviderPaymentID != "" && order.ProviderPaymentID != claim.ProviderRef {
		return fmt.Errorf("provider payment id mismatch: order has %q, claim has %q", order.ProviderPaymentID, claim.ProviderRef)
	}
	if claim.OrderID != 0 && claim.OrderID != order.ID {
		return fmt.Errorf("order id mismatch: order %d, claim %d", order.ID, claim.OrderID)
	}
	if !claim.Amount.IsZero() && !claim.Amount.Equal(order.Amount) {
		return fmt.Errorf("amount mismatch: order %s, claim %s", order.Amount, claim.Amount)
	}
	if claim.Currency != "" && claim.Currency != order.Currency {
		return fmt.Errorf("currency mismatch: order %s, claim %s", order.Currency, claim.Currency)
	}
	return nil
}

// lockOrder loads the order under FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own.
func lockOrder(tx *gorm.DB, orderID uint, order *models.Order) error {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q.First(order, orderID).Error
}
