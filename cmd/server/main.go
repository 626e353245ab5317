package main

import (
	"log"

	"vpn-billing-api/internal/api"
	"vpn-billing-api/internal/config"
	"vpn-billing-api/internal/database"
	"vpn-billing-api/internal/panel"
	"vpn-billing-api/internal/payments"
	"vpn-billing-api/internal/services"
	"vpn-billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging(cfg.Server.Mode)
	defer logging.Sync()

	// Initialize database and Redis
	db, rdb, err := database.Init(cfg.Database, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close(db, rdb)

	// Panel and payment gateways
	panelClient := panel.NewClient(cfg.Panel, panel.DefaultRetryPolicy(cfg.Panel.MaxAttempts, cfg.Panel.BackoffBase))

	verifiers := map[string]payments.Verifier{}
	if cfg.YooKassa.ShopID != "" {
		verifiers[payments.ProviderYooKassa] = payments.NewYooKassaClient(cfg.YooKassa)
	}
	if cfg.CryptoPay.Token != "" {
		verifiers[payments.ProviderCryptoPay] = payments.NewCryptoPayClient(cfg.CryptoPay)
	}

	// Services
	users := services.NewUserService(db)
	subs := services.NewSubscriptionService(db, cfg.Billing)
	devices := services.NewDeviceService(db, panelClient)
	referrals := services.NewReferralService(db, subs)
	promos := services.NewPromoService(db)
	alerts := services.NewAlertService(cfg.Alert)
	orders := services.NewOrderService(db, subs, devices, referrals, promos, alerts)
	replay := services.NewReplayGuard(rdb)

	// Background sweep for abandoned pending orders
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() {
		n, err := orders.CancelStaleOrders(cfg.Billing.StaleOrderMaxAge)
		if err != nil {
			logging.Errorf("Stale order sweep failed: %v", err)
			return
		}
		if n > 0 {
			logging.Infof("Canceled %d stale orders", n)
		}
	}); err != nil {
		log.Fatal("Failed to schedule stale order sweep:", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	server := api.NewServer(cfg, users, subs, devices, referrals, orders, promos, verifiers, replay)
	server.SetupRoutes(r)

	// Start server
	logging.Infof("Starting server on port %s", cfg.Server.Port)

	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
