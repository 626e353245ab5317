package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/payments"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type settlementFixture struct {
	db      *gorm.DB
	orders  *OrderService
	subs    *SubscriptionService
	devices *DeviceService
	gateway *fakePanel
}

func newSettlementFixture(t *testing.T, now time.Time) *settlementFixture {
	t.Helper()
	db := testDB(t)
	gateway := &fakePanel{}

	subs := NewSubscriptionService(db, config.BillingConfig{TrialHours: 48})
	subs.now = fixedNow(now)
	devices := NewDeviceService(db, gateway)
	devices.now = fixedNow(now)
	referrals := NewReferralService(db, subs)
	referrals.now = fixedNow(now)
	promos := NewPromoService(db)
	promos.now = fixedNow(now)
	orders := NewOrderService(db, subs, devices, referrals, promos, nil)
	orders.now = fixedNow(now)

	return &settlementFixture{
		db:      db,
		orders:  orders,
		subs:    subs,
		devices: devices,
		gateway: gateway,
	}
}

func TestCreateOrder_DefaultsToCatalogPrice(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	order, err := f.orders.CreateOrder(user.ID, PlanPro, 3, payments.ProviderYooKassa, nil, models.ProviderMeta{})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if !order.Amount.Equal(decimal.NewFromInt(899)) {
		t.Fatalf("expected catalog price 899, got %s", order.Amount)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("expected pending, got %q", order.Status)
	}
}

func TestCreateOrder_RejectsUnknownPlan(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	if _, err := f.orders.CreateOrder(user.ID, "platinum", 1, payments.ProviderManual, nil, models.ProviderMeta{}); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if _, err := f.orders.CreateOrder(user.ID, PlanStart, 5, payments.ProviderManual, nil, models.ProviderMeta{}); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan for bad tenure, got %v", err)
	}
}

func TestMarkOrderPaid_SettlesAndExtends(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	order, err := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	expires, notes, err := f.orders.MarkOrderPaid(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("MarkOrderPaid failed: %v", err)
	}
	want := now.Add(30 * 24 * time.Hour)
	if !expires.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expires)
	}
	for _, n := range notes {
		if n == "already_paid" {
			t.Fatal("fresh settlement flagged already_paid")
		}
	}

	reloaded, _ := f.orders.GetOrder(order.ID)
	if reloaded.Status != models.OrderStatusPaid || reloaded.PaidAt == nil {
		t.Fatalf("order not committed paid: status=%q paid_at=%v", reloaded.Status, reloaded.PaidAt)
	}

	sub, _ := f.subs.GetOrCreate(user.ID)
	if sub.PlanCode != PlanStart || sub.DevicesLimit != 3 {
		t.Fatalf("subscription not updated: plan=%q limit=%d", sub.PlanCode, sub.DevicesLimit)
	}
}

func TestMarkOrderPaid_SecondCallShortCircuits(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	inviter := createTestUser(t, f.db, 1, nil)
	user := createTestUser(t, f.db, 10, &inviter.ID)

	order, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})

	first, _, err := f.orders.MarkOrderPaid(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}

	second, notes, err := f.orders.MarkOrderPaid(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("second settlement failed: %v", err)
	}
	if !second.Equal(first) {
		t.Fatalf("second settlement moved expiry: %v vs %v", second, first)
	}
	if len(notes) == 0 || notes[0] != "already_paid" {
		t.Fatalf("expected already_paid note, got %v", notes)
	}

	// The referral bonus was granted exactly once.
	var events int64
	f.db.Model(&models.ReferralEvent{}).Where("order_id = ?", order.ID).Count(&events)
	if events != 1 {
		t.Fatalf("expected 1 referral event, got %d", events)
	}
}

func TestMarkOrderPaid_CanceledOrderRejected(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	order, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	if _, err := f.orders.CancelOrder(order.ID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	if _, _, err := f.orders.MarkOrderPaid(context.Background(), order.ID); !errors.Is(err, ErrOrderAlreadyProcessed) {
		t.Fatalf("expected ErrOrderAlreadyProcessed, got %v", err)
	}

	sub, _ := f.subs.GetOrCreate(user.ID)
	if sub.ExpiresAt != nil {
		t.Fatalf("canceled order must not grant time, got expiry %v", sub.ExpiresAt)
	}
}

func TestMarkOrderPaid_EnforcesSmallerDeviceLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	// Paid family plan with 5 devices, then a downgrade to start (3 devices).
	famOrder, _ := f.orders.CreateOrder(user.ID, PlanFamily, 3, payments.ProviderManual, nil, models.ProviderMeta{})
	if _, _, err := f.orders.MarkOrderPaid(context.Background(), famOrder.ID); err != nil {
		t.Fatalf("family settlement failed: %v", err)
	}
	sub, _ := f.subs.GetOrCreate(user.ID)
	for i := 0; i < 5; i++ {
		if _, err := f.devices.CreateDevice(context.Background(), user, sub, "android", ""); err != nil {
			t.Fatalf("CreateDevice failed: %v", err)
		}
	}

	downgrade, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	_, notes, err := f.orders.MarkOrderPaid(context.Background(), downgrade.ID)
	if err != nil {
		t.Fatalf("downgrade settlement failed: %v", err)
	}

	found := false
	for _, n := range notes {
		if n == "disabled_2_devices" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected disabled_2_devices note, got %v", notes)
	}

	devices, _ := f.devices.ListDevices(user.ID)
	activeCount := 0
	for _, d := range devices {
		if d.Status == models.DeviceStatusActive {
			activeCount++
			if d.Slot > 3 {
				t.Fatalf("slot %d should have been disabled first", d.Slot)
			}
		}
	}
	if activeCount != 3 {
		t.Fatalf("expected 3 active devices, got %d", activeCount)
	}
}

func TestMarkOrderPaid_PanelSyncFailureIsNotedNotFatal(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	first, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	if _, _, err := f.orders.MarkOrderPaid(context.Background(), first.ID); err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}
	sub, _ := f.subs.GetOrCreate(user.ID)
	if _, err := f.devices.CreateDevice(context.Background(), user, sub, "android", ""); err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}

	f.gateway.updateErr = errors.New("panel down")
	renewal, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	_, notes, err := f.orders.MarkOrderPaid(context.Background(), renewal.ID)
	if err != nil {
		t.Fatalf("renewal settlement must not fail on panel sync: %v", err)
	}

	found := false
	for _, n := range notes {
		if n == "panel_sync_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected panel_sync_failed note, got %v", notes)
	}

	reloaded, _ := f.orders.GetOrder(renewal.ID)
	if reloaded.Status != models.OrderStatusPaid {
		t.Fatalf("order not paid despite sync failure: %q", reloaded.Status)
	}
}

func TestCancelStaleOrders(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	stale, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})
	f.db.Model(stale).Update("created_at", now.Add(-48*time.Hour))
	fresh, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderManual, nil, models.ProviderMeta{})

	canceled, err := f.orders.CancelStaleOrders(24 * time.Hour)
	if err != nil {
		t.Fatalf("CancelStaleOrders failed: %v", err)
	}
	if canceled != 1 {
		t.Fatalf("expected 1 canceled, got %d", canceled)
	}

	s, _ := f.orders.GetOrder(stale.ID)
	if s.Status != models.OrderStatusCanceled {
		t.Fatalf("stale order not canceled: %q", s.Status)
	}
	fr, _ := f.orders.GetOrder(fresh.ID)
	if fr.Status != models.OrderStatusPending {
		t.Fatalf("fresh order touched: %q", fr.Status)
	}
}

func TestValidateWebhookClaim(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	order, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderYooKassa, nil, models.ProviderMeta{})
	if err := f.orders.AttachProviderPayment(order, "pay-123", models.ProviderMeta{}); err != nil {
		t.Fatalf("AttachProviderPayment failed: %v", err)
	}

	good := payments.WebhookClaim{
		Provider:    payments.ProviderYooKassa,
		ProviderRef: "pay-123",
		OrderID:     order.ID,
		Amount:      decimal.NewFromInt(249),
		Currency:    "RUB",
	}
	if err := f.orders.ValidateWebhookClaim(order, good); err != nil {
		t.Fatalf("valid claim rejected: %v", err)
	}

	// Empty claim fields are not cross-checked.
	sparse := payments.WebhookClaim{Provider: payments.ProviderYooKassa, ProviderRef: "pay-123"}
	if err := f.orders.ValidateWebhookClaim(order, sparse); err != nil {
		t.Fatalf("sparse claim rejected: %v", err)
	}

	cases := []struct {
		name  string
		claim payments.WebhookClaim
		want  string
	}{
		{"provider", payments.WebhookClaim{Provider: payments.ProviderCryptoPay}, "provider mismatch"},
		{"ref", payments.WebhookClaim{ProviderRef: "pay-999"}, "payment id mismatch"},
		{"order", payments.WebhookClaim{OrderID: order.ID + 1}, "order id mismatch"},
		{"amount", payments.WebhookClaim{Amount: decimal.NewFromInt(1)}, "amount mismatch"},
		{"currency", payments.WebhookClaim{Currency: "USD"}, "currency mismatch"},
	}
	for _, tc := range cases {
		err := f.orders.ValidateWebhookClaim(order, tc.claim)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected %q error, got %v", tc.name, tc.want, err)
		}
	}
}

func TestFindOrderForClaim(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newSettlementFixture(t, now)
	user := createTestUser(t, f.db, 10, nil)

	order, _ := f.orders.CreateOrder(user.ID, PlanStart, 1, payments.ProviderCryptoPay, nil, models.ProviderMeta{})
	if err := f.orders.AttachProviderPayment(order, "42", models.ProviderMeta{}); err != nil {
		t.Fatalf("AttachProviderPayment failed: %v", err)
	}

	byID, err := f.orders.FindOrderForClaim(payments.WebhookClaim{OrderID: order.ID})
	if err != nil || byID.ID != order.ID {
		t.Fatalf("lookup by order id failed: %v", err)
	}

	byRef, err := f.orders.FindOrderForClaim(payments.WebhookClaim{
		Provider:    payments.ProviderCryptoPay,
		ProviderRef: "42",
	})
	if err != nil || byRef.ID != order.ID {
		t.Fatalf("lookup by provider ref failed: %v", err)
	}

	if _, err := f.orders.FindOrderForClaim(payments.WebhookClaim{Provider: payments.ProviderCryptoPay}); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for empty claim, got %v", err)
	}
}
