package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration. It is loaded once in main and
// injected into constructors; nothing reads the environment after Load.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Panel     PanelConfig
	YooKassa  YooKassaConfig
	CryptoPay CryptoPayConfig
	Alert     AlertConfig
	Billing   BillingConfig
}

type ServerConfig struct {
	Port        string
	Mode        string
	AdminAPIKey string
}

type DatabaseConfig struct {
	URL string
	// SQLitePath is the development fallback used when URL is empty.
	SQLitePath string
}

type RedisConfig struct {
	URL string
}

type PanelConfig struct {
	BaseURL     string
	Username    string
	Password    string
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
}

type YooKassaConfig struct {
	ShopID            string
	SecretKey         string
	ReturnURL         string
	WebhookPathSecret string
}

type CryptoPayConfig struct {
	Token             string
	Asset             string
	WebhookPathSecret string
	WebhookSecret     string
}

type AlertConfig struct {
	BrevoAPIKey string
	FromEmail   string
	FromName    string
	ToEmail     string
}

type BillingConfig struct {
	TrialHours       int
	StaleOrderMaxAge time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// Ignore error if .env file doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Mode:        getEnv("GIN_MODE", "debug"),
			AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Database: DatabaseConfig{
			URL:        getEnv("DATABASE_URL", ""),
			SQLitePath: getEnv("SQLITE_PATH", "vpn-billing-api.db"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Panel: PanelConfig{
			BaseURL:     getEnv("PANEL_BASE_URL", ""),
			Username:    getEnv("PANEL_USERNAME", ""),
			Password:    getEnv("PANEL_PASSWORD", ""),
			MaxAttempts: getEnvInt("PANEL_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("PANEL_BACKOFF_BASE", 500*time.Millisecond),
			Timeout:     getEnvDuration("PANEL_TIMEOUT", 20*time.Second),
		},
		YooKassa: YooKassaConfig{
			ShopID:            getEnv("YOOKASSA_SHOP_ID", ""),
			SecretKey:         getEnv("YOOKASSA_SECRET_KEY", ""),
			ReturnURL:         getEnv("YOOKASSA_RETURN_URL", ""),
			WebhookPathSecret: getEnv("YOOKASSA_WEBHOOK_PATH_SECRET", ""),
		},
		CryptoPay: CryptoPayConfig{
			Token:             getEnv("CRYPTOPAY_TOKEN", ""),
			Asset:             getEnv("CRYPTOPAY_ASSET", "USDT"),
			WebhookPathSecret: getEnv("CRYPTOPAY_WEBHOOK_PATH_SECRET", ""),
			WebhookSecret:     getEnv("CRYPTOPAY_WEBHOOK_SECRET", ""),
		},
		Alert: AlertConfig{
			BrevoAPIKey: getEnv("BREVO_API_KEY", ""),
			FromEmail:   getEnv("BREVO_FROM_EMAIL", ""),
			FromName:    getEnv("BREVO_FROM_NAME", "VPN Billing"),
			ToEmail:     getEnv("ALERT_TO_EMAIL", ""),
		},
		Billing: BillingConfig{
			TrialHours:       getEnvInt("TRIAL_HOURS", 48),
			StaleOrderMaxAge: getEnvDuration("STALE_ORDER_MAX_AGE", 24*time.Hour),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
