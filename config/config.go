package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Billing     BillingConfig
	AWS         AWSConfig
	Invitations InvitationConfig
	Email       EmailConfig
	Admin       AdminConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	BaseURL            string // public base URL, used in invite links and emails
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/nimbus?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int // pool size cap; 0 keeps the pgx default
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and session settings.
type JWTConfig struct {
	Secret            string
	ExpireMinutes     int // access token lifetime
	RefreshExpireDays int // refresh token session lifetime
}

// BillingConfig holds payment provider credentials and subscription policy.
type BillingConfig struct {
	ProviderAPIBase    string // payment provider REST endpoint
	SecretKey          string
	WebhookSecret      string
	GracePeriodDays    int // access window after a payment failure
	TrialDays          int
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// AWSConfig holds AWS credentials and the assets bucket for logos/exports.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	AssetsBucket         string
	PresignExpireMinutes int
}

// InvitationConfig holds invitation policy.
type InvitationConfig struct {
	ExpireHours int
}

// EmailConfig for SMTP delivery of transactional mail.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// AdminConfig holds platform-admin bootstrap settings.
type AdminConfig struct {
	BootstrapEmail string // user with this email is promoted to platform admin on startup
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	dbMaxConns, _ := strconv.Atoi(getEnv("DB_MAX_CONNS", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/nimbus?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "nimbus"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireMinutes:     getEnvInt("JWT_EXPIRE_MINUTES", 30),
			RefreshExpireDays: getEnvInt("REFRESH_EXPIRE_DAYS", 30),
		},
		Billing: BillingConfig{
			ProviderAPIBase:    getEnv("BILLING_API_BASE", "https://api.stripe.com/v1"),
			SecretKey:          getEnv("BILLING_SECRET_KEY", ""),
			WebhookSecret:      getEnv("BILLING_WEBHOOK_SECRET", ""),
			GracePeriodDays:    getEnvInt("BILLING_GRACE_PERIOD_DAYS", 14),
			TrialDays:          getEnvInt("BILLING_TRIAL_DAYS", 14),
			CheckoutSuccessURL: getEnv("BILLING_CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CheckoutCancelURL:  getEnv("BILLING_CHECKOUT_CANCEL_URL", "http://localhost:3000/billing"),
			PortalReturnURL:    getEnv("BILLING_PORTAL_RETURN_URL", "http://localhost:3000/settings/billing"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AssetsBucket:         getEnv("AWS_S3_ASSETS_BUCKET", "nimbus-assets"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Invitations: InvitationConfig{
			ExpireHours: getEnvInt("INVITATION_EXPIRE_HOURS", 72),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Nimbus"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Admin: AdminConfig{
			BootstrapEmail: getEnv("ADMIN_BOOTSTRAP_EMAIL", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
