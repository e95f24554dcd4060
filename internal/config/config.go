// Package config defines the immutable process configuration for the
// TrustedBy billing service. Configuration is loaded once at startup and
// never modified afterwards.
//
// Values resolve through a priority chain:
//
//	OS Environment (highest) -> dotenv file -> AWS SSM Parameter Store (lowest)
//
// A missing required value or invalid format aborts startup.
package config

import (
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// SecretString aliases types.SecretString so config consumers get log-safe
// secrets without importing types directly.
type SecretString = types.SecretString

// Config is the top-level configuration for the service. Components receive
// only the subsections they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"trustedby-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Razorpay      RazorpayConfig
	Dodo          DodoConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build metadata injected via ldflags, not environment.
	Build BuildInfo
}

// ServerConfig holds HTTP listener and public URL settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public dashboard URL used in checkout redirects (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the connection settings for the rate-limit store.
type RedisConfig struct {
	URL     SecretString `envconfig:"REDIS_URL" validate:"required"`
	Enabled bool         `envconfig:"REDIS_ENABLED" default:"true"`
}

// AWSConfig holds regional settings shared by the SSM and CloudWatch clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support, empty in production deployments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig selects the active payment provider and sets shared billing
// behavior. Webhooks are always accepted from both vendors; the selection
// only controls which vendor new checkouts go to.
type BillingConfig struct {
	ActiveProvider string `envconfig:"PAYMENT_PROVIDER" default:"razorpay" validate:"oneof=razorpay dodo"`

	// CancellationGraceDays is the paid-period fallback applied when a
	// cancellation carries no end date from the vendor.
	CancellationGraceDays int `envconfig:"CANCELLATION_GRACE_DAYS" default:"30" validate:"min=1"`
}

// RazorpayConfig holds Razorpay credentials and the plan catalog.
// Plan IDs are keyed by currency and billing period; the factory validates
// the full catalog at startup.
type RazorpayConfig struct {
	KeyID         string       `envconfig:"RAZORPAY_KEY_ID" validate:"required"`
	KeySecret     SecretString `envconfig:"RAZORPAY_KEY_SECRET" validate:"required"`
	WebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET" validate:"required"`
	BaseURL       string       `envconfig:"RAZORPAY_BASE_URL" default:"https://api.razorpay.com"`

	PlanUSDMonthly string `envconfig:"RAZORPAY_PLAN_USD_MONTHLY" validate:"required"`
	PlanUSDAnnual  string `envconfig:"RAZORPAY_PLAN_USD_ANNUAL" validate:"required"`
	PlanINRMonthly string `envconfig:"RAZORPAY_PLAN_INR_MONTHLY" validate:"required"`
	PlanINRAnnual  string `envconfig:"RAZORPAY_PLAN_INR_ANNUAL" validate:"required"`
}

// DodoConfig holds Dodo Payments credentials and the product catalog.
type DodoConfig struct {
	APIKey        SecretString `envconfig:"DODO_API_KEY" validate:"required"`
	WebhookSecret SecretString `envconfig:"DODO_WEBHOOK_SECRET" validate:"required"`
	BaseURL       string       `envconfig:"DODO_BASE_URL" default:"https://live.dodopayments.com"`

	ProductUSDMonthly string `envconfig:"DODO_PRODUCT_USD_MONTHLY" validate:"required"`
	ProductUSDAnnual  string `envconfig:"DODO_PRODUCT_USD_ANNUAL" validate:"required"`
	ProductINRMonthly string `envconfig:"DODO_PRODUCT_INR_MONTHLY" validate:"required"`
	ProductINRAnnual  string `envconfig:"DODO_PRODUCT_INR_ANNUAL" validate:"required"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	RateLimitPerMinute        int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	WebhookRateLimitPerMinute int `envconfig:"WEBHOOK_RATE_LIMIT_PER_MINUTE" default:"600"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TrustedBy"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates environment values could not be parsed into their
	// target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
