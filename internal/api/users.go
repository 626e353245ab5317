package api

import (
	"net/http"
	"strconv"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/response"
	"vpn-billing-api/internal/services"
	"vpn-billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

type ensureUserRequest struct {
	TgID      int64  `json:"tg_id" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Locale    string `json:"locale"`
	RefCode   string `json:"ref_code"`
}

// EnsureUser registers the user on first contact and refreshes the profile
// on every later one.
func (s *Server) EnsureUser(c *gin.Context) {
	var req ensureUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := s.users.GetOrCreate(services.CreateUserParams{
		TgID:      req.TgID,
		Username:  req.Username,
		FirstName: req.FirstName,
		Locale:    req.Locale,
		RefCode:   req.RefCode,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	sub, err := s.subs.GetOrCreate(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{
		"user":         user,
		"subscription": s.subscriptionView(sub),
	})
}

// GetSubscriptionStatus reports the user's entitlement state.
func (s *Server) GetSubscriptionStatus(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}

	sub, err := s.subs.GetOrCreate(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, s.subscriptionView(sub))
}

// ActivateTrial grants the one-shot trial period.
func (s *Server) ActivateTrial(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}

	sub, err := s.subs.ActivateTrial(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if sub.ExpiresAt != nil {
		if failed, err := s.devices.SyncDevicesExpire(c.Request.Context(), user.ID, sub.ExpiresAt.Unix()); err != nil || failed > 0 {
			logging.Warnf("Device sync after trial activation incomplete for user %d: failed=%d err=%v", user.ID, failed, err)
		}
	}

	response.SuccessJSON(c, s.subscriptionView(sub))
}

// GetReferralStats reports the user's invite link standing.
func (s *Server) GetReferralStats(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}

	stats, err := s.referrals.Stats(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{
		"referral_code": user.ReferralCode,
		"stats":         stats,
	})
}

// ListDevices returns the user's devices ordered by slot.
func (s *Server) ListDevices(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}

	devices, err := s.devices.ListDevices(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{"devices": devices})
}

type createDeviceRequest struct {
	DeviceType string `json:"device_type"`
	Label      string `json:"label"`
}

// CreateDevice allocates a slot and provisions the panel account.
func (s *Server) CreateDevice(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}

	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	sub, err := s.subs.GetOrCreate(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	device, err := s.devices.CreateDevice(c.Request.Context(), user, sub, req.DeviceType, req.Label)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	link, subscriptionURL, err := s.devices.ConnectionLinks(c.Request.Context(), device)
	if err != nil {
		// The device exists; missing links only degrade the response.
		logging.Warnf("Failed to fetch connection links for device %d: %v", device.ID, err)
	}

	response.SuccessJSON(c, gin.H{
		"device":           device,
		"link":             link,
		"subscription_url": subscriptionURL,
	})
}

// DeleteDevice retires a device, freeing its slot. The panel account is
// disabled, not removed.
func (s *Server) DeleteDevice(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}
	deviceID, ok := uintParam(c, "device_id")
	if !ok {
		return
	}

	device, err := s.devices.GetDevice(deviceID, user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := s.devices.SetDeviceStatus(c.Request.Context(), device, models.DeviceStatusDeleted); err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, device)
}

// ReissueDevice revokes the device's panel subscription and returns fresh
// connection links.
func (s *Server) ReissueDevice(c *gin.Context) {
	user, ok := s.userFromPath(c)
	if !ok {
		return
	}
	deviceID, ok := uintParam(c, "device_id")
	if !ok {
		return
	}

	device, err := s.devices.GetDevice(deviceID, user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := s.devices.ReissueConfig(c.Request.Context(), device); err != nil {
		respondServiceError(c, err)
		return
	}

	link, subscriptionURL, err := s.devices.ConnectionLinks(c.Request.Context(), device)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{
		"link":             link,
		"subscription_url": subscriptionURL,
	})
}

// userFromPath resolves the :tg_id path parameter to a user, writing the
// error response itself when it cannot.
func (s *Server) userFromPath(c *gin.Context) (*models.User, bool) {
	tgID, err := strconv.ParseInt(c.Param("tg_id"), 10, 64)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid tg_id")
		return nil, false
	}

	user, err := s.users.GetByTgID(tgID)
	if err != nil {
		respondServiceError(c, err)
		return nil, false
	}
	return user, true
}

// subscriptionView flattens the entitlement state for bot consumption.
func (s *Server) subscriptionView(sub *models.Subscription) gin.H {
	return gin.H{
		"plan_code":     sub.PlanCode,
		"active":        s.subs.IsActive(sub),
		"trial_used":    sub.TrialUsed,
		"devices_limit": sub.DevicesLimit,
		"started_at":    sub.StartedAt,
		"expires_at":    sub.ExpiresAt,
	}
}
