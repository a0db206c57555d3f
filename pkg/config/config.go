package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Processor    ProcessorConfig
	Sweeper      SweeperConfig
	Webhooks     WebhooksConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Orders.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLEMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SETTLEMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	// comma separated; empty disables cross-origin access
	CORSAllowedOrigins []string `envconfig:"SETTLEMENT_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"SETTLEMENT_DB_DSN"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// LockTimeout bounds how long a transaction waits on an order row lock.
	LockTimeout        time.Duration `envconfig:"SETTLEMENT_DB_LOCK_TIMEOUT" default:"5s"`
	SlowQueryThreshold time.Duration `envconfig:"SETTLEMENT_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`

	SlowCommandThreshold time.Duration `envconfig:"SETTLEMENT_REDIS_SLOW_THRESHOLD" default:"100ms"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SETTLEMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SETTLEMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SETTLEMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

// OrdersConfig holds the business knobs of the order lifecycle. Percentages
// are expressed as plain numbers (5 means 5%).
type OrdersConfig struct {
	TimeoutMinutes             int             `envconfig:"SETTLEMENT_ORDER_TIMEOUT_MINUTES" default:"30"`
	GracePeriodMinutes         int             `envconfig:"SETTLEMENT_ORDER_GRACE_PERIOD_MINUTES" default:"5"`
	UnderpaymentRetryMinutes   int             `envconfig:"SETTLEMENT_UNDERPAYMENT_RETRY_MINUTES" default:"30"`
	UnderpaymentPenaltyPercent decimal.Decimal `envconfig:"SETTLEMENT_UNDERPAYMENT_PENALTY_PERCENT" default:"5"`
	LatePaymentPenaltyPercent  decimal.Decimal `envconfig:"SETTLEMENT_LATE_PAYMENT_PENALTY_PERCENT" default:"5"`
	CancelPenaltyPercent       decimal.Decimal `envconfig:"SETTLEMENT_CANCEL_PENALTY_PERCENT" default:"5"`
	PaymentTolerancePercent    decimal.Decimal `envconfig:"SETTLEMENT_PAYMENT_TOLERANCE_PERCENT" default:"0.1"`
	Currency                   string          `envconfig:"SETTLEMENT_CURRENCY" default:"EUR"`
	AllowMultiplePending       bool            `envconfig:"SETTLEMENT_ALLOW_MULTIPLE_PENDING" default:"false"`
}

// Timeout returns how long a fresh order stays payable.
func (o OrdersConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMinutes) * time.Minute
}

// GracePeriod returns the window in which user cancellations are free.
func (o OrdersConfig) GracePeriod() time.Duration {
	return time.Duration(o.GracePeriodMinutes) * time.Minute
}

// UnderpaymentRetryWindow returns the expiry extension granted after a first underpayment.
func (o OrdersConfig) UnderpaymentRetryWindow() time.Duration {
	return time.Duration(o.UnderpaymentRetryMinutes) * time.Minute
}

func (o OrdersConfig) validate() error {
	if o.TimeoutMinutes <= 0 {
		return fmt.Errorf("%s must be positive", EnvOrderTimeoutMinutes)
	}
	if o.GracePeriodMinutes < 0 {
		return fmt.Errorf("%s must not be negative", EnvOrderGracePeriodMinutes)
	}
	if o.UnderpaymentRetryMinutes <= 0 {
		return fmt.Errorf("%s must be positive", EnvUnderpaymentRetryMinutes)
	}
	for env, pct := range map[string]decimal.Decimal{
		EnvUnderpaymentPenaltyPct: o.UnderpaymentPenaltyPercent,
		EnvLatePaymentPenaltyPct:  o.LatePaymentPenaltyPercent,
		EnvCancelPenaltyPct:       o.CancelPenaltyPercent,
		EnvPaymentTolerancePct:    o.PaymentTolerancePercent,
	} {
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%s must be between 0 and 100", env)
		}
	}
	if strings.TrimSpace(o.Currency) == "" {
		return fmt.Errorf("%s is required", EnvCurrency)
	}
	return nil
}

type ProcessorConfig struct {
	BaseURL               string        `envconfig:"SETTLEMENT_PROCESSOR_BASE_URL" default:"https://kryptoexpress.pro/api"`
	APIKey                string        `envconfig:"SETTLEMENT_PROCESSOR_API_KEY"`
	WebhookSecret         string        `envconfig:"SETTLEMENT_PROCESSOR_WEBHOOK_SECRET"`
	CallbackURL           string        `envconfig:"SETTLEMENT_PROCESSOR_CALLBACK_URL"`
	Timeout               time.Duration `envconfig:"SETTLEMENT_PROCESSOR_TIMEOUT" default:"10s"`
	AllowUnsignedWebhooks bool          `envconfig:"SETTLEMENT_ALLOW_UNSIGNED_WEBHOOKS" default:"false"`
	DefaultCryptoCurrency string        `envconfig:"SETTLEMENT_DEFAULT_CRYPTO_CURRENCY" default:"BTC"`
}

type SweeperConfig struct {
	Interval        time.Duration `envconfig:"SETTLEMENT_SWEEPER_INTERVAL" default:"60s"`
	LockTTL         time.Duration `envconfig:"SETTLEMENT_SWEEPER_LOCK_TTL" default:"55s"`
	BatchSize       int           `envconfig:"SETTLEMENT_SWEEPER_BATCH_SIZE" default:"200"`
	OutboxRetention time.Duration `envconfig:"SETTLEMENT_OUTBOX_RETENTION" default:"720h"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SETTLEMENT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SETTLEMENT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"SETTLEMENT_PUBSUB_NOTIFICATION_TOPIC" default:"settlement-notifications"`
	OrdersTopic       string `envconfig:"SETTLEMENT_PUBSUB_ORDERS_TOPIC" default:"settlement-orders"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
