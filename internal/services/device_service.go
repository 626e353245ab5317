package services

import (
	"context"
	"fmt"
	"sort"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/panel"
	"vpn-billing-api/pkg/logging"

	"gorm.io/gorm"
)

// DeviceService allocates device slots and keeps the panel in sync. The
// local device rows are authoritative; the panel is an eventually-consistent
// mirror, so sync failures are logged and swallowed while creation failures
// are escalated.
type DeviceService struct {
	db    *gorm.DB
	panel PanelGateway
	now   nowFunc
}

// NewDeviceService creates the device coordinator.
func NewDeviceService(db *gorm.DB, gateway PanelGateway) *DeviceService {
	return &DeviceService{
		db:    db,
		panel: gateway,
		now:   nowUTC,
	}
}

func (s *DeviceService) withDB(db *gorm.DB) *DeviceService {
	clone := *s
	clone.db = db
	return &clone
}

// PanelUsername derives the per-device panel account name. Unique per slot.
func PanelUsername(tgID int64, slot int) string {
	return fmt.Sprintf("u%d_d%d", tgID, slot)
}

// ListDevices returns the user's devices ordered by slot.
func (s *DeviceService) ListDevices(userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.Where("user_id = ?", userID).Order("slot asc").Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// GetDevice loads one device owned by the user.
func (s *DeviceService) GetDevice(deviceID, userID uint) (*models.Device, error) {
	var device models.Device
	err := s.db.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// NextFreeSlot returns the smallest slot in [1, limit] not held by a
// non-deleted device.
func NextFreeSlot(devices []models.Device, limit int) (int, error) {
	used := make(map[int]bool, len(devices))
	for _, d := range devices {
		if d.Status != models.DeviceStatusDeleted {
			used[d.Slot] = true
		}
	}
	for slot := 1; slot <= limit; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, ErrDeviceLimitReached
}

// CreateDevice allocates a slot and provisions the panel account. The local
// row is persisted only after the panel call succeeds, so a gateway failure
// leaves no orphan local state. When the slot allocation fails no panel call
// is made at all.
func (s *DeviceService) CreateDevice(ctx context.Context, user *models.User, sub *models.Subscription, deviceType, label string) (*models.Device, error) {
	devices, err := s.ListDevices(user.ID)
	if err != nil {
		return nil, err
	}

	slot, err := NextFreeSlot(devices, sub.DevicesLimit)
	if err != nil {
		return nil, err
	}

	username := PanelUsername(user.TgID, slot)

	var expireTs int64
	status := panel.UserStatusOnHold
	if sub.ExpiresAt != nil && sub.ExpiresAt.After(s.now()) {
		expireTs = sub.ExpiresAt.Unix()
		status = panel.UserStatusActive
	}

	profile, err := s.panel.CreateUser(ctx, panel.CreateUserRequest{
		Username: username,
		ExpireAt: expireTs,
		Status:   status,
		Note:     fmt.Sprintf("tg_id=%d;slot=%d;label=%s", user.TgID, slot, label),
	})
	if err != nil {
		logging.Warnf("Panel create_user failed for tg_id=%d slot=%d: %v", user.TgID, slot, err)
		return nil, err
	}

	device := models.Device{
		UserID:        user.ID,
		Slot:          slot,
		Label:         label,
		DeviceType:    deviceType,
		Status:        status,
		PanelUsername: username,
		PanelUserID:   profile.ID,
	}
	if device.Status == panel.UserStatusOnHold {
		// Local rows only track active/disabled/deleted; a provisioned but
		// not yet entitled device counts as active locally.
		device.Status = models.DeviceStatusActive
	}
	if err := s.db.Create(&device).Error; err != nil {
		return nil, fmt.Errorf("failed to persist device: %w", err)
	}
	return &device, nil
}

// SetDeviceStatus flips the local status first, then mirrors it to the panel
// best-effort. A deleted device is kept on the panel but disabled.
func (s *DeviceService) SetDeviceStatus(ctx context.Context, device *models.Device, status string) error {
	device.Status = status
	if err := s.db.Save(device).Error; err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}

	if device.PanelUsername == "" {
		return nil
	}
	panelStatus := panel.UserStatusActive
	if status == models.DeviceStatusDisabled || status == models.DeviceStatusDeleted {
		panelStatus = panel.UserStatusDisabled
	}
	if err := s.panel.UpdateUser(ctx, device.PanelUsername, panel.UserPatch{Status: &panelStatus}); err != nil {
		logging.Warnf("Panel status sync failed for %s: %v", device.PanelUsername, err)
	}
	return nil
}

// EnforceDeviceLimit disables the excess active devices when the count is
// above the new limit, dropping the highest slot numbers first. Returns the
// devices that were disabled.
func (s *DeviceService) EnforceDeviceLimit(ctx context.Context, userID uint, limit int) ([]models.Device, error) {
	devices, err := s.ListDevices(userID)
	if err != nil {
		return nil, err
	}

	active := make([]models.Device, 0, len(devices))
	for _, d := range devices {
		if d.Status == models.DeviceStatusActive {
			active = append(active, d)
		}
	}
	if len(active) <= limit {
		return nil, nil
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Slot > active[j].Slot })
	toDisable := active[:len(active)-limit]

	disabled := make([]models.Device, 0, len(toDisable))
	for i := range toDisable {
		d := toDisable[i]
		if err := s.SetDeviceStatus(ctx, &d, models.DeviceStatusDisabled); err != nil {
			return disabled, err
		}
		disabled = append(disabled, d)
	}
	return disabled, nil
}

// SyncDevicesExpire pushes the new expiry to every active device's panel
// account, independently per device. Returns how many pushes failed.
func (s *DeviceService) SyncDevicesExpire(ctx context.Context, userID uint, expireTs int64) (failed int, err error) {
	devices, err := s.ListDevices(userID)
	if err != nil {
		return 0, err
	}

	for _, d := range devices {
		if d.Status != models.DeviceStatusActive || d.PanelUsername == "" {
			continue
		}
		ts := expireTs
		if err := s.panel.UpdateUser(ctx, d.PanelUsername, panel.UserPatch{ExpireAt: &ts}); err != nil {
			logging.Warnf("Panel expire sync failed for %s: %v", d.PanelUsername, err)
			failed++
		}
	}
	return failed, nil
}

// ConnectionLinks fetches the device's current connection link and
// subscription URL from the panel.
func (s *DeviceService) ConnectionLinks(ctx context.Context, device *models.Device) (link, subscriptionURL string, err error) {
	if device.PanelUsername == "" {
		return "", "", fmt.Errorf("device has no panel account")
	}
	profile, err := s.panel.GetUser(ctx, device.PanelUsername)
	if err != nil {
		return "", "", err
	}
	if profile == nil {
		return "", "", nil
	}
	if len(profile.Links) > 0 {
		link = profile.Links[0]
	}
	return link, profile.SubscriptionURL, nil
}

// ReissueConfig revokes the panel subscription so the next config fetch
// issues fresh links.
func (s *DeviceService) ReissueConfig(ctx context.Context, device *models.Device) error {
	if device.PanelUsername == "" {
		return fmt.Errorf("device has no panel account")
	}
	return s.panel.RevokeSubscription(ctx, device.PanelUsername)
}
