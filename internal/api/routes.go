package api

import (
	"errors"
	"net/http"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/internal/middleware"
	"vpn-billing-api/internal/panel"
	"vpn-billing-api/internal/payments"
	"vpn-billing-api/internal/response"
	"vpn-billing-api/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server carries the injected dependencies shared by all handlers.
type Server struct {
	cfg *config.Config

	users     *services.UserService
	subs      *services.SubscriptionService
	devices   *services.DeviceService
	referrals *services.ReferralService
	orders    *services.OrderService
	promos    *services.PromoService

	verifiers map[string]payments.Verifier
	replay    *services.ReplayGuard
}

// NewServer wires the handler set.
func NewServer(
	cfg *config.Config,
	users *services.UserService,
	subs *services.SubscriptionService,
	devices *services.DeviceService,
	referrals *services.ReferralService,
	orders *services.OrderService,
	promos *services.PromoService,
	verifiers map[string]payments.Verifier,
	replay *services.ReplayGuard,
) *Server {
	return &Server{
		cfg:       cfg,
		users:     users,
		subs:      subs,
		devices:   devices,
		referrals: referrals,
		orders:    orders,
		promos:    promos,
		verifiers: verifiers,
		replay:    replay,
	}
}

// SetupRoutes sets up all routes
func (s *Server) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		users := api.Group("/users")
		{
			users.POST("", s.EnsureUser)
			users.GET("/:tg_id/subscription", s.GetSubscriptionStatus)
			users.POST("/:tg_id/trial", s.ActivateTrial)
			users.GET("/:tg_id/referrals", s.GetReferralStats)
			users.GET("/:tg_id/devices", s.ListDevices)
			users.POST("/:tg_id/devices", s.CreateDevice)
			users.DELETE("/:tg_id/devices/:device_id", s.DeleteDevice)
			users.POST("/:tg_id/devices/:device_id/reissue", s.ReissueDevice)
		}

		orders := api.Group("/orders")
		{
			orders.POST("", s.CreateOrder)
			orders.GET("/:id", s.GetOrder)
			orders.POST("/:id/check", s.CheckOrder)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(s.cfg.Server.AdminAPIKey))
		{
			admin.GET("/orders/pending", s.ListPendingOrders)
			admin.POST("/orders/:id/confirm", s.ConfirmOrder)
			admin.POST("/orders/:id/cancel", s.CancelOrder)
			admin.POST("/orders/:id/refund", s.RefundOrder)

			admin.GET("/promos", s.ListPromos)
			admin.POST("/promos", s.CreatePromo)
			admin.POST("/promos/:id/toggle", s.TogglePromo)
			admin.DELETE("/promos/:id", s.DeletePromo)
		}
	}

	// Providers call these; no auth beyond the path secret.
	webhooks := r.Group("/webhook")
	{
		webhooks.POST("/yookassa/:secret", s.YooKassaWebhook)
		webhooks.POST("/cryptopay/:secret", s.CryptoPayWebhook)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "vpn-billing-api",
		})
	})
}

// respondServiceError maps service errors onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var panelErr *panel.PanelError
	var providerErr *payments.ProviderError

	switch {
	case errors.Is(err, services.ErrTrialAlreadyUsed),
		errors.Is(err, services.ErrActiveSubscriptionExists),
		errors.Is(err, services.ErrDeviceLimitReached),
		errors.Is(err, services.ErrOrderAlreadyProcessed),
		errors.Is(err, services.ErrPromoUnavailable):
		response.ErrorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrUnknownPlan):
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.ErrorJSON(c, http.StatusNotFound, "not found")
	case errors.As(err, &panelErr):
		response.ErrorJSON(c, http.StatusBadGateway, "panel unavailable: "+panelErr.Error())
	case errors.As(err, &providerErr):
		response.ErrorJSON(c, http.StatusServiceUnavailable, "payment provider unavailable, try again later")
	default:
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
