package services

import (
	"errors"
	"fmt"
	"strings"

	"vpn-billing-api/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PromoService manages discount codes and their at-most-once redemptions.
type PromoService struct {
	db  *gorm.DB
	now nowFunc
}

// NewPromoService creates the promo service.
func NewPromoService(db *gorm.DB) *PromoService {
	return &PromoService{
		db:  db,
		now: nowUTC,
	}
}

// NormalizeCode uppercases and trims a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GetByCode finds a promo regardless of its active state.
func (s *PromoService) GetByCode(code string) (*models.Promo, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var promo models.Promo
	if err := s.db.Where("code = ?", normalized).First(&promo).Error; err != nil {
		return nil, err
	}
	return &promo, nil
}

// List returns all promos, newest first.
func (s *PromoService) List() ([]models.Promo, error) {
	var promos []models.Promo
	err := s.db.Order("id desc").Find(&promos).Error
	return promos, err
}

// Create registers a new code.
func (s *PromoService) Create(code string, discount decimal.Decimal, maxUses int) (*models.Promo, error) {
	promo := models.Promo{
		Code:     NormalizeCode(code),
		Discount: discount,
		MaxUses:  maxUses,
		Active:   true,
	}
	if err := s.db.Create(&promo).Error; err != nil {
		return nil, fmt.Errorf("failed to create promo: %w", err)
	}
	return &promo, nil
}

// Toggle flips the active flag.
func (s *PromoService) Toggle(promoID uint) (*models.Promo, error) {
	var promo models.Promo
	if err := s.db.First(&promo, promoID).Error; err != nil {
		return nil, err
	}
	promo.Active = !promo.Active
	if err := s.db.Save(&promo).Error; err != nil {
		return nil, fmt.Errorf("failed to toggle promo: %w", err)
	}
	return &promo, nil
}

// Delete removes a code.
func (s *PromoService) Delete(promoID uint) error {
	return s.db.Delete(&models.Promo{}, promoID).Error
}

// AvailableForUser checks whether the code can still be attached to a new
// order for this user: active, under its use limit and not redeemed by the
// user before. All failure modes collapse into ErrPromoUnavailable so the
// caller leaks nothing about which check failed.
func (s *PromoService) AvailableForUser(code string, userID uint) (*models.Promo, error) {
	promo, err := s.GetByCode(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPromoUnavailable
	}
	if err != nil {
		return nil, err
	}
	if !promo.Active {
		return nil, ErrPromoUnavailable
	}
	if promo.MaxUses > 0 && promo.UsedCount >= promo.MaxUses {
		return nil, ErrPromoUnavailable
	}

	var count int64
	err = s.db.Model(&models.PromoRedemption{}).
		Where("promo_id = ? AND user_id = ?", promo.ID, userID).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrPromoUnavailable
	}
	return promo, nil
}

// RedeemForOrder consumes the promo attached to the order's meta, at most
// once per order. Returns false when the order carries no promo or it was
// already redeemed.
func (s *PromoService) RedeemForOrder(order *models.Order) (bool, error) {
	if order.Meta.Promo == nil || order.Meta.Promo.PromoID == 0 {
		return false, nil
	}

	var existing models.PromoRedemption
	err := s.db.Where("order_id = ?", order.ID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to check promo redemption: %w", err)
	}

	var promo models.Promo
	if err := s.db.First(&promo, order.Meta.Promo.PromoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	redemption := models.PromoRedemption{
		PromoID:    promo.ID,
		UserID:     order.UserID,
		OrderID:    order.ID,
		RedeemedAt: s.now(),
	}
	promo.UsedCount++

	if err := s.db.Create(&redemption).Error; err != nil {
		return false, fmt.Errorf("failed to record promo redemption: %w", err)
	}
	if err := s.db.Save(&promo).Error; err != nil {
		return false, fmt.Errorf("failed to update promo use count: %w", err)
	}
	return true, nil
}
