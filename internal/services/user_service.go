package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"vpn-billing-api/internal/models"

	"gorm.io/gorm"
)

// UserService creates and looks up users and wires referral attribution.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates the user service.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// GetByTgID finds a user by messenger id.
func (s *UserService) GetByTgID(tgID int64) (*models.User, error) {
	var user models.User
	if err := s.db.Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID loads a user by primary key.
func (s *UserService) GetByID(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByReferralCode finds a user by their referral code.
func (s *UserService) GetByReferralCode(code string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("referral_code = ?", code).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUserParams carries the profile fields sent on first contact.
type CreateUserParams struct {
	TgID      int64
	Username  string
	FirstName string
	Locale    string
	// RefCode attributes the signup to an inviter. Only honored on creation.
	RefCode string
}

// GetOrCreate returns the user, refreshing profile fields on repeat contact
// and attaching the inviter on first contact.
func (s *UserService) GetOrCreate(params CreateUserParams) (*models.User, error) {
	user, err := s.GetByTgID(params.TgID)
	if err == nil {
		user.Username = params.Username
		user.FirstName = params.FirstName
		if params.Locale != "" {
			user.Locale = params.Locale
		}
		if err := s.db.Save(user).Error; err != nil {
			return nil, fmt.Errorf("failed to update user profile: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var inviterID *uint
	if params.RefCode != "" {
		if inviter, err := s.GetByReferralCode(params.RefCode); err == nil && inviter.TgID != params.TgID {
			inviterID = &inviter.ID
		}
	}

	code, err := s.newReferralCode()
	if err != nil {
		return nil, err
	}

	user = &models.User{
		TgID:         params.TgID,
		Username:     params.Username,
		FirstName:    params.FirstName,
		Locale:       params.Locale,
		InviterID:    inviterID,
		ReferralCode: code,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// newReferralCode generates a short url-safe code, retrying on the unlikely
// collision.
func (s *UserService) newReferralCode() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, err := s.GetByReferralCode(code); errors.Is(err, gorm.ErrRecordNotFound) {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique referral code")
}

func randomCode() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(buf)
	code = strings.NewReplacer("-", "", "_", "").Replace(code)
	if len(code) > 12 {
		code = code[:12]
	}
	return code, nil
}
