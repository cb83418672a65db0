// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Gateway     GatewayConfig
	Ledger      LedgerConfig
	Fulfillment FulfillmentConfig
	Email       EmailConfig
}

// GatewayConfig configures the payment provider integration.
type GatewayConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	Timeout       time.Duration
}

// LedgerConfig configures the accounting system adapter.
type LedgerConfig struct {
	BaseURL             string
	APIKey              string
	SkipArticleCreation bool
	CallDelay           time.Duration
	Timeout             time.Duration
}

// FulfillmentConfig configures the warehouse system adapter.
type FulfillmentConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	CallDelay time.Duration
	Timeout   time.Duration
}

type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "commerce-core"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "commerce"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Gateway: GatewayConfig{
			BaseURL:       getenv("GATEWAY_BASE_URL", "https://api.payment.example"),
			APIKey:        strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			SuccessURL:    getenv("GATEWAY_SUCCESS_URL", ""),
			Timeout:       getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Ledger: LedgerConfig{
			BaseURL:             getenv("LEDGER_BASE_URL", ""),
			APIKey:              strings.TrimSpace(getenv("LEDGER_API_KEY", "")),
			SkipArticleCreation: getenvBool("LEDGER_SKIP_ARTICLE_CREATION", false),
			CallDelay:           getenvDuration("LEDGER_CALL_DELAY", 300*time.Millisecond),
			Timeout:             getenvDuration("LEDGER_TIMEOUT", 15*time.Second),
		},
		Fulfillment: FulfillmentConfig{
			BaseURL:   getenv("FULFILLMENT_BASE_URL", ""),
			APIKey:    strings.TrimSpace(getenv("FULFILLMENT_API_KEY", "")),
			APISecret: strings.TrimSpace(getenv("FULFILLMENT_API_SECRET", "")),
			CallDelay: getenvDuration("FULFILLMENT_CALL_DELAY", 300*time.Millisecond),
			Timeout:   getenvDuration("FULFILLMENT_TIMEOUT", 15*time.Second),
		},
		Email: EmailConfig{
			Enabled:      getenvBool("EMAIL_ENABLED", false),
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", ""),
		},
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
