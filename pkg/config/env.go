package config

const (
	EnvPrefix = "SETTLEMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "SETTLEMENT_APP_ENV"
	EnvPort     = "SETTLEMENT_APP_PORT"
	EnvDBDSN    = "SETTLEMENT_DB_DSN"
	EnvDBHost   = "SETTLEMENT_DB_HOST"
	EnvDBUser   = "SETTLEMENT_DB_USER"
	EnvDBName   = "SETTLEMENT_DB_NAME"
	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvJWTSecret = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer = "SETTLEMENT_JWT_ISSUER"

	EnvOrderTimeoutMinutes      = "SETTLEMENT_ORDER_TIMEOUT_MINUTES"
	EnvOrderGracePeriodMinutes  = "SETTLEMENT_ORDER_GRACE_PERIOD_MINUTES"
	EnvUnderpaymentRetryMinutes = "SETTLEMENT_UNDERPAYMENT_RETRY_MINUTES"
	EnvUnderpaymentPenaltyPct   = "SETTLEMENT_UNDERPAYMENT_PENALTY_PERCENT"
	EnvLatePaymentPenaltyPct    = "SETTLEMENT_LATE_PAYMENT_PENALTY_PERCENT"
	EnvCancelPenaltyPct         = "SETTLEMENT_CANCEL_PENALTY_PERCENT"
	EnvPaymentTolerancePct      = "SETTLEMENT_PAYMENT_TOLERANCE_PERCENT"
	EnvCurrency                 = "SETTLEMENT_CURRENCY"

	EnvProcessorWebhookSecret = "SETTLEMENT_PROCESSOR_WEBHOOK_SECRET"
	EnvAllowUnsignedWebhooks  = "SETTLEMENT_ALLOW_UNSIGNED_WEBHOOKS"
	EnvSweeperInterval        = "SETTLEMENT_SWEEPER_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
