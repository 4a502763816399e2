package config

const EnvPrefix = "LEDGERGATE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv  = "LEDGERGATE_APP_ENV"
	EnvAppPort = "LEDGERGATE_APP_PORT"

	EnvDBDSN    = "LEDGERGATE_DB_DSN"
	EnvDBDriver = "LEDGERGATE_DB_DRIVER"
	EnvDBHost   = "LEDGERGATE_DB_HOST"
	EnvDBUser   = "LEDGERGATE_DB_USER"
	EnvDBName   = "LEDGERGATE_DB_NAME"

	EnvRedisURL = "LEDGERGATE_REDIS_URL"

	EnvJWTSecret = "LEDGERGATE_JWT_SECRET"
	EnvJWTIssuer = "LEDGERGATE_JWT_ISSUER"

	EnvLedgerBaseCurrency  = "LEDGERGATE_LEDGER_BASE_CURRENCY"
	EnvLedgerQuoteCurrency = "LEDGERGATE_LEDGER_QUOTE_CURRENCY"
	EnvRateCacheTTL        = "LEDGERGATE_RATE_CACHE_TTL"

	EnvAuditChecksumKey = "LEDGERGATE_AUDIT_CHECKSUM_KEY"
	EnvApprovalsAdmins  = "LEDGERGATE_APPROVALS_ADMIN_ROLES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
