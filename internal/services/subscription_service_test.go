package services

import (
	"errors"
	"testing"
	"time"

	"vpn-billing-api/internal/config"
)

func newTestSubscriptionService(t *testing.T, now time.Time) *SubscriptionService {
	t.Helper()
	svc := NewSubscriptionService(testDB(t), config.BillingConfig{TrialHours: 48})
	svc.now = fixedNow(now)
	return svc
}

func TestGetOrCreate_CreatesInactivePlaceholder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	sub, err := svc.GetOrCreate(user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sub.PlanCode != PlanTrial {
		t.Fatalf("expected trial placeholder, got plan %q", sub.PlanCode)
	}
	if sub.ExpiresAt != nil {
		t.Fatalf("placeholder must not be active, got expires_at %v", sub.ExpiresAt)
	}
	if svc.IsActive(sub) {
		t.Fatal("placeholder reported as active")
	}
	if sub.TrialUsed {
		t.Fatal("placeholder must not consume the trial")
	}

	again, err := svc.GetOrCreate(user.ID)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again.ID != sub.ID {
		t.Fatalf("expected the same row, got %d and %d", sub.ID, again.ID)
	}
}

func TestActivateTrial_OneShot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	sub, err := svc.ActivateTrial(user.ID)
	if err != nil {
		t.Fatalf("ActivateTrial failed: %v", err)
	}
	wantExpires := now.Add(48 * time.Hour)
	if sub.ExpiresAt == nil || !sub.ExpiresAt.Equal(wantExpires) {
		t.Fatalf("expected expiry %v, got %v", wantExpires, sub.ExpiresAt)
	}
	if !sub.TrialUsed {
		t.Fatal("trial flag not set")
	}

	if _, err := svc.ActivateTrial(user.ID); !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Fatalf("expected ErrTrialAlreadyUsed, got %v", err)
	}

	// The flag is monotonic: an expired trial still cannot be re-activated.
	svc.now = fixedNow(now.Add(100 * time.Hour))
	if _, err := svc.ActivateTrial(user.ID); !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Fatalf("expected ErrTrialAlreadyUsed after expiry, got %v", err)
	}
}

func TestActivateTrial_BlockedByActivePaidPlan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	opt, err := GetPlanOption(PlanStart, 1)
	if err != nil {
		t.Fatalf("GetPlanOption failed: %v", err)
	}
	if _, err := svc.ApplyPlanPurchase(user.ID, opt); err != nil {
		t.Fatalf("ApplyPlanPurchase failed: %v", err)
	}

	if _, err := svc.ActivateTrial(user.ID); !errors.Is(err, ErrActiveSubscriptionExists) {
		t.Fatalf("expected ErrActiveSubscriptionExists, got %v", err)
	}
}

func TestApplyPlanPurchase_ExtendsActiveFromExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	opt, _ := GetPlanOption(PlanStart, 1)
	first, err := svc.ApplyPlanPurchase(user.ID, opt)
	if err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	wantFirst := now.Add(30 * 24 * time.Hour)
	if !first.Equal(wantFirst) {
		t.Fatalf("expected first expiry %v, got %v", wantFirst, first)
	}

	// A renewal bought mid-term extends from the current expiry, not now.
	svc.now = fixedNow(now.Add(10 * 24 * time.Hour))
	second, err := svc.ApplyPlanPurchase(user.ID, opt)
	if err != nil {
		t.Fatalf("renewal failed: %v", err)
	}
	wantSecond := wantFirst.Add(30 * 24 * time.Hour)
	if !second.Equal(wantSecond) {
		t.Fatalf("expected stacked expiry %v, got %v", wantSecond, second)
	}
}

func TestApplyPlanPurchase_RestartsFromNowWhenLapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	opt, _ := GetPlanOption(PlanPro, 1)
	if _, err := svc.ApplyPlanPurchase(user.ID, opt); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}

	later := now.Add(90 * 24 * time.Hour)
	svc.now = fixedNow(later)
	expires, err := svc.ApplyPlanPurchase(user.ID, opt)
	if err != nil {
		t.Fatalf("repurchase failed: %v", err)
	}
	want := later.Add(30 * 24 * time.Hour)
	if !expires.Equal(want) {
		t.Fatalf("expected restart from now, want %v got %v", want, expires)
	}

	sub, _ := svc.GetOrCreate(user.ID)
	if sub.StartedAt == nil || !sub.StartedAt.Equal(later) {
		t.Fatalf("expected started_at reset to %v, got %v", later, sub.StartedAt)
	}
}

func TestApplyPlanPurchase_UpdatesPlanAndLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSubscriptionService(t, now)
	user := createTestUser(t, svc.db, 100, nil)

	opt, _ := GetPlanOption(PlanFamily, 3)
	if _, err := svc.ApplyPlanPurchase(user.ID, opt); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	sub, _ := svc.GetOrCreate(user.ID)
	if sub.PlanCode != PlanFamily {
		t.Fatalf("expected plan family, got %q", sub.PlanCode)
	}
	if sub.DevicesLimit != 10 {
		t.Fatalf("expected devices limit 10, got %d", sub.DevicesLimit)
	}
}
