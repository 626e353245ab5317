package services

import (
	"testing"
)

func TestGetOrCreate_AttachesInviterOnFirstContactOnly(t *testing.T) {
	db := testDB(t)
	svc := NewUserService(db)

	inviter, err := svc.GetOrCreate(CreateUserParams{TgID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("failed to create inviter: %v", err)
	}
	if inviter.ReferralCode == "" {
		t.Fatal("expected a referral code")
	}

	invited, err := svc.GetOrCreate(CreateUserParams{TgID: 2, Username: "bob", RefCode: inviter.ReferralCode})
	if err != nil {
		t.Fatalf("failed to create invited user: %v", err)
	}
	if invited.InviterID == nil || *invited.InviterID != inviter.ID {
		t.Fatalf("inviter not attached: %v", invited.InviterID)
	}

	// A later contact with a different ref code must not reattach.
	late, err := svc.GetOrCreate(CreateUserParams{TgID: 2, Username: "bob2", RefCode: "something-else"})
	if err != nil {
		t.Fatalf("repeat contact failed: %v", err)
	}
	if late.Username != "bob2" {
		t.Fatalf("profile not refreshed: %q", late.Username)
	}
	if late.InviterID == nil || *late.InviterID != inviter.ID {
		t.Fatalf("inviter changed on repeat contact: %v", late.InviterID)
	}
}

func TestGetOrCreate_IgnoresSelfReferral(t *testing.T) {
	db := testDB(t)
	svc := NewUserService(db)

	first, err := svc.GetOrCreate(CreateUserParams{TgID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	// Another account cannot be attributed to itself via its own code; the
	// guard compares messenger ids at creation time.
	again, err := svc.GetOrCreate(CreateUserParams{TgID: 1, RefCode: first.ReferralCode})
	if err != nil {
		t.Fatalf("repeat contact failed: %v", err)
	}
	if again.InviterID != nil {
		t.Fatalf("self referral attached: %v", again.InviterID)
	}
}

func TestGetOrCreate_UnknownRefCodeIgnored(t *testing.T) {
	db := testDB(t)
	svc := NewUserService(db)

	user, err := svc.GetOrCreate(CreateUserParams{TgID: 3, RefCode: "does-not-exist"})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if user.InviterID != nil {
		t.Fatalf("expected no inviter, got %v", user.InviterID)
	}
}

func TestRandomCode_Shape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("randomCode failed: %v", err)
		}
		if len(code) == 0 || len(code) > 12 {
			t.Fatalf("unexpected code length %d", len(code))
		}
		for _, r := range code {
			if r == '-' || r == '_' {
				t.Fatalf("code %q contains separator", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes collide too often: %d unique of 50", len(seen))
	}
}
