package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// PromotionEndLayout is the format of ANNOUNCEMENTS_PROMOTION_END.
const PromotionEndLayout = "2006-01-02 15:04:05"

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"ENV" envDefault:"development"`

	AppName       string `env:"APP_NAME" envDefault:"Necrologia Tempo"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	AdminToken    string `env:"ADMIN_TOKEN"`

	// Announcement page paths used in notification links; "{slug}" is
	// replaced. Point them at the frontend when one serves the pages.
	PublicAnnouncementPath string `env:"PUBLIC_ANNOUNCEMENT_PATH" envDefault:"/v1/announcements/{slug}"`
	AdminAnnouncementPath  string `env:"ADMIN_ANNOUNCEMENT_PATH" envDefault:"/v1/admin/announcements/{slug}"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"necrologia"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"necrologia"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_KEY_PREFIX" envDefault:"necrologia"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`

	// AWS services. SNS and SQS fall back to AWS_REGION when unset.
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	SESFromEmail string `env:"SES_FROM_EMAIL" envDefault:"noreply@necrologia.local"`
	SNSRegion    string `env:"SNS_REGION"`
	SQSRegion    string `env:"SQS_REGION"`
	SQSQueueURL  string `env:"SQS_QUEUE_URL"`
	SQSDLQURL    string `env:"SQS_DLQ_URL"`

	// Notification recipients
	OperatorEmail   string `env:"NOTIFY_OPERATOR_EMAIL"`
	ModerationEmail string `env:"ANNOUNCEMENTS_MODERATION_EMAIL"`

	// Lifecycle
	PromotionEndRaw   string `env:"ANNOUNCEMENTS_PROMOTION_END" envDefault:"2025-12-31 23:59:59"`
	StrictTransitions bool   `env:"LIFECYCLE_STRICT_TRANSITIONS" envDefault:"false"`

	// M-Pesa
	MpesaHost                string `env:"MPESA_HOST" envDefault:"https://api.sandbox.vm.co.mz"`
	MpesaOrigin              string `env:"MPESA_ORIGIN" envDefault:"developer.mpesa.vm.co.mz"`
	MpesaAPIKey              string `env:"MPESA_API_KEY"`
	MpesaServiceProviderCode string `env:"MPESA_SERVICE_PROVIDER_CODE"`
	MpesaEnv                 string `env:"MPESA_ENV" envDefault:"sandbox"`
	MpesaTimeoutSeconds      int    `env:"MPESA_TIMEOUT" envDefault:"30"`
	MpesaCountryCode         string `env:"MPESA_COUNTRY_CODE" envDefault:"258"`

	// Tracing is disabled when empty.
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.SNSRegion == "" {
		cfg.SNSRegion = cfg.AWSRegion
	}
	if cfg.SQSRegion == "" {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if _, err := cfg.PromotionEnd(); err != nil {
		return nil, err
	}

	if cfg.MpesaEnv != "sandbox" && cfg.MpesaEnv != "production" {
		return nil, fmt.Errorf("invalid MPESA_ENV %q: want sandbox or production", cfg.MpesaEnv)
	}

	return &cfg, nil
}

// MpesaTimeout is the configured gateway timeout.
func (c *Config) MpesaTimeout() time.Duration {
	return time.Duration(c.MpesaTimeoutSeconds) * time.Second
}

// PromotionEnd is the end of the free-submission window. The zero time means
// no promotion is running.
func (c *Config) PromotionEnd() (time.Time, error) {
	if c.PromotionEndRaw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(PromotionEndLayout, c.PromotionEndRaw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ANNOUNCEMENTS_PROMOTION_END: %w", err)
	}
	return t, nil
}
