package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"vpn-billing-api/internal/database"
	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/panel"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// testDB opens a migrated in-memory SQLite database, named per test so
// parallel tests never share state.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func fixedNow(ts time.Time) nowFunc {
	return func() time.Time { return ts }
}

func createTestUser(t *testing.T, db *gorm.DB, tgID int64, inviterID *uint) *models.User {
	t.Helper()
	user := &models.User{
		TgID:         tgID,
		InviterID:    inviterID,
		ReferralCode: fmt.Sprintf("code-%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), tgID),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// fakePanel records gateway calls and fails on demand.
type fakePanel struct {
	createCalls []panel.CreateUserRequest
	updateCalls []fakeUpdate
	revoked     []string

	createErr error
	updateErr error
	profile   *panel.UserProfile
}

type fakeUpdate struct {
	Username string
	Patch    panel.UserPatch
}

func (f *fakePanel) CreateUser(_ context.Context, req panel.CreateUserRequest) (*panel.UserProfile, error) {
	f.createCalls = append(f.createCalls, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &panel.UserProfile{Username: req.Username, Status: req.Status, ExpireAt: req.ExpireAt}, nil
}

func (f *fakePanel) UpdateUser(_ context.Context, username string, patch panel.UserPatch) error {
	f.updateCalls = append(f.updateCalls, fakeUpdate{Username: username, Patch: patch})
	return f.updateErr
}

func (f *fakePanel) GetUser(_ context.Context, username string) (*panel.UserProfile, error) {
	if f.profile != nil {
		return f.profile, nil
	}
	return &panel.UserProfile{Username: username}, nil
}

func (f *fakePanel) RevokeSubscription(_ context.Context, username string) error {
	f.revoked = append(f.revoked, username)
	return nil
}
