package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	GatewayCashfree = "cashfree"
	GatewayStripe   = "stripe"

	EventBusSNS   = "sns"
	EventBusKafka = "kafka"
	EventBusNone  = "none"
)

type PostgresConfig struct {
	User     string
	Password string
	DB       string
	Host     string
	Port     string
	SSLMode  string
	TimeZone string
}

// DSN returns the gorm/pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		p.Host, p.User, p.Password, p.DB, p.Port, p.SSLMode, p.TimeZone,
	)
}

type CashfreeConfig struct {
	AppID      string
	SecretKey  string
	Env        string
	APIVersion string
}

// Production reports whether the live Cashfree endpoint should be used.
func (c CashfreeConfig) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// Config holds all configuration for the booking service.
type Config struct {
	Port        string
	Env         string
	StoreDriver string
	Postgres    PostgresConfig

	Rates               pricing.Rates
	MinWithdrawal       decimal.Decimal
	Currency            string
	OwnerCreditReversal bool

	PaymentGateway string
	Cashfree       CashfreeConfig
	Stripe         StripeConfig
	GatewayTimeout time.Duration
	FrontendURL    string
	BackendURL     string

	JWTSecret      string
	InternalToken  string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	EventBus          string
	SNSTopicARN       string
	KafkaBrokers      []string
	KafkaTopic        string
	RetryQueueURL     string
	ArchiveBucket     string
	RedisURL          string
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
	ReconcileBatch    int
	// PendingOrderTTL is how long an order may stay pending before the
	// reconciler fails it. Negative disables expiry.
	PendingOrderTTL time.Duration

	AWSRegion      string
	AWSEndpoint    string
	SecretsPrefix  string
	LogGroup       string
	MetricsEnabled bool
}

// SecretSource is the part of the Secrets Manager client the config needs.
type SecretSource interface {
	GetJSONSecret(ctx context.Context, name string, out interface{}) error
}

// LoadConfig reads .env (when present) and the environment, applies the
// Secrets Manager override when AWS_SECRETS_PREFIX is set and validates the
// result.
func LoadConfig(ctx context.Context) (*Config, error) {
	// Missing .env is fine; deployed environments use real variables.
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.SecretsPrefix != "" {
		awsCfg, err := awspkg.LoadAWSConfig(ctx, awspkg.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables without validating
// cross-field requirements.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		Postgres: PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       os.Getenv("POSTGRES_DB"),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),
		},
		Rates: pricing.Rates{
			FarmerFeeRate: getDecimal("FARMER_FEE_RATE", pricing.DefaultFarmerFeeRate, &errs),
			OwnerFeeRate:  getDecimal("OWNER_FEE_RATE", pricing.DefaultOwnerFeeRate, &errs),
		},
		MinWithdrawal:       getDecimal("MIN_WITHDRAWAL", decimal.NewFromInt(100), &errs),
		Currency:            strings.ToUpper(getEnv("CURRENCY", "INR")),
		OwnerCreditReversal: getBool("OWNER_CREDIT_REVERSAL_ON_REFUND", false, &errs),

		PaymentGateway: strings.ToLower(getEnv("PAYMENT_GATEWAY", GatewayCashfree)),
		Cashfree: CashfreeConfig{
			AppID:      os.Getenv("CASHFREE_APP_ID"),
			SecretKey:  os.Getenv("CASHFREE_SECRET_KEY"),
			Env:        getEnv("CASHFREE_ENV", "sandbox"),
			APIVersion: getEnv("CASHFREE_API_VERSION", "2023-08-01"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 10*time.Second, &errs),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		BackendURL:     strings.TrimSuffix(getEnv("BACKEND_URL", "http://localhost:8080"), "/"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		InternalToken:  os.Getenv("INTERNAL_SERVICE_TOKEN"),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10, &errs),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20, &errs),

		EventBus:          strings.ToLower(getEnv("EVENT_BUS", EventBusNone)),
		SNSTopicARN:       os.Getenv("SNS_BOOKING_EVENTS_TOPIC_ARN"),
		KafkaBrokers:      getList("KAFKA_BROKERS", nil),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "booking-events"),
		RetryQueueURL:     os.Getenv("PAYMENT_RETRY_QUEUE_URL"),
		ArchiveBucket:     os.Getenv("WEBHOOK_ARCHIVE_BUCKET"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ReconcileInterval: getDuration("RECONCILE_INTERVAL", 5*time.Minute, &errs),
		ReconcileGrace:    getDuration("RECONCILE_GRACE", 15*time.Minute, &errs),
		ReconcileBatch:    getInt("RECONCILE_BATCH", 50, &errs),
		PendingOrderTTL:   getDuration("PENDING_ORDER_TTL", 24*time.Hour, &errs),

		AWSRegion:      getEnv("AWS_REGION", "ap-south-1"),
		AWSEndpoint:    os.Getenv("AWS_ENDPOINT"),
		SecretsPrefix:  os.Getenv("AWS_SECRETS_PREFIX"),
		LogGroup:       os.Getenv("CLOUDWATCH_LOG_GROUP"),
		MetricsEnabled: getBool("METRICS_ENABLED", false, &errs),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ApplySecrets overrides credentials with the JSON secrets stored under
// SecretsPrefix. Missing secrets leave the env values in place.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	overrides := []struct {
		name   string
		fields map[string]*string
	}{
		{"postgres", map[string]*string{
			"POSTGRES_USER":     &c.Postgres.User,
			"POSTGRES_PASSWORD": &c.Postgres.Password,
			"POSTGRES_DB":       &c.Postgres.DB,
			"POSTGRES_HOST":     &c.Postgres.Host,
			"POSTGRES_PORT":     &c.Postgres.Port,
		}},
		{"cashfree", map[string]*string{
			"CASHFREE_APP_ID":     &c.Cashfree.AppID,
			"CASHFREE_SECRET_KEY": &c.Cashfree.SecretKey,
		}},
		{"stripe", map[string]*string{
			"STRIPE_SECRET_KEY":     &c.Stripe.SecretKey,
			"STRIPE_WEBHOOK_SECRET": &c.Stripe.WebhookSecret,
		}},
		{"jwt", map[string]*string{
			"JWT_SECRET":             &c.JWTSecret,
			"INTERNAL_SERVICE_TOKEN": &c.InternalToken,
		}},
	}

	prefix := strings.TrimSuffix(c.SecretsPrefix, "/")
	for _, o := range overrides {
		var m map[string]string
		if err := src.GetJSONSecret(ctx, prefix+"/"+o.name, &m); err != nil {
			continue
		}
		for key, dst := range o.fields {
			if v, ok := m[key]; ok && v != "" {
				*dst = v
			}
		}
	}
	return nil
}

// Validate checks the settings each selected driver needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StorePostgres:
		if c.Postgres.User == "" || c.Postgres.Password == "" || c.Postgres.DB == "" {
			errs = append(errs, fmt.Errorf("database config incomplete"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.PaymentGateway {
	case GatewayCashfree:
		if c.Cashfree.AppID == "" || c.Cashfree.SecretKey == "" {
			errs = append(errs, fmt.Errorf("CASHFREE_APP_ID and CASHFREE_SECRET_KEY are required"))
		}
	case GatewayStripe:
		if c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.PaymentGateway))
	}

	switch c.EventBus {
	case EventBusSNS:
		if c.SNSTopicARN == "" {
			errs = append(errs, fmt.Errorf("SNS_BOOKING_EVENTS_TOPIC_ARN is required for the sns event bus"))
		}
	case EventBusKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for the kafka event bus"))
		}
	case EventBusNone:
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_BUS %q", c.EventBus))
	}

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if err := c.Rates.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.MinWithdrawal.IsPositive() {
		errs = append(errs, fmt.Errorf("MIN_WITHDRAWAL must be positive"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_TIMEOUT must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getDecimal(key string, fallback decimal.Decimal, errs *[]error) decimal.Decimal {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getBool(key string, fallback bool, errs *[]error) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func getInt(key string, fallback int, errs *[]error) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}
