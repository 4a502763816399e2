package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	HTTP         HTTPConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Approvals    ApprovalsConfig
	Audit        AuditConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEDGERGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"LEDGERGATE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LEDGERGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEDGERGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEDGERGATE_SERVICE_KIND" default:"api"`
}

// HTTPConfig shapes the API surface in front of the services.
type HTTPConfig struct {
	CORSOrigins         []string      `envconfig:"LEDGERGATE_HTTP_CORS_ORIGINS"`
	WriteRateWindow     time.Duration `envconfig:"LEDGERGATE_HTTP_WRITE_RATE_WINDOW" default:"1m"`
	WriteRateActorLimit int           `envconfig:"LEDGERGATE_HTTP_WRITE_RATE_ACTOR_LIMIT" default:"60"`
	WriteRateIPLimit    int           `envconfig:"LEDGERGATE_HTTP_WRITE_RATE_IP_LIMIT" default:"300"`
	ShutdownTimeout     time.Duration `envconfig:"LEDGERGATE_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGERGATE_DB_DSN"`
	Driver string `envconfig:"LEDGERGATE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEDGERGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"LEDGERGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEDGERGATE_DB_USER"`
	LegacyPassword string `envconfig:"LEDGERGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEDGERGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEDGERGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGERGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGERGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGERGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGERGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets the embedded sqlite store.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGERGATE_REDIS_URL"`
	Address      string        `envconfig:"LEDGERGATE_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGERGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGERGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGERGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGERGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGERGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGERGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGERGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LEDGERGATE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEDGERGATE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEDGERGATE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEDGERGATE_AUTO_MIGRATE" default:"false"`
	// PublishAlerts toggles writing alert.raised outbox events; alerts are only logged when off.
	PublishAlerts bool `envconfig:"LEDGERGATE_FEATURE_PUBLISH_ALERTS" default:"true"`
}

// LedgerConfig carries defaults used when the settings table has no override.
type LedgerConfig struct {
	BaseCurrency           string        `envconfig:"LEDGERGATE_LEDGER_BASE_CURRENCY" default:"USD"`
	QuoteCurrency          string        `envconfig:"LEDGERGATE_LEDGER_QUOTE_CURRENCY" default:"EGP"`
	RateCacheTTL           time.Duration `envconfig:"LEDGERGATE_RATE_CACHE_TTL" default:"30s"`
	SettingsCacheTTL       time.Duration `envconfig:"LEDGERGATE_SETTINGS_CACHE_TTL" default:"30s"`
	PreventNegativeBalance bool          `envconfig:"LEDGERGATE_LEDGER_PREVENT_NEGATIVE_BALANCE" default:"true"`
	LowBalanceThreshold    string        `envconfig:"LEDGERGATE_LEDGER_LOW_BALANCE_THRESHOLD" default:"0"`
}

func (l LedgerConfig) validate() error {
	if strings.TrimSpace(l.BaseCurrency) == "" {
		return fmt.Errorf("%s is required", EnvLedgerBaseCurrency)
	}
	if strings.EqualFold(l.BaseCurrency, l.QuoteCurrency) {
		return fmt.Errorf("%s and %s must differ", EnvLedgerBaseCurrency, EnvLedgerQuoteCurrency)
	}
	return nil
}

type ApprovalsConfig struct {
	AdminRoles   []string      `envconfig:"LEDGERGATE_APPROVALS_ADMIN_ROLES" default:"admin"`
	AuditorRoles []string      `envconfig:"LEDGERGATE_AUDITOR_ROLES" default:"admin,auditor,cfo"`
	SweepBatch   int           `envconfig:"LEDGERGATE_APPROVALS_SWEEP_BATCH" default:"200"`
	SweepTimeout time.Duration `envconfig:"LEDGERGATE_APPROVALS_SWEEP_TIMEOUT" default:"2m"`
	// RedriveGrace is how long a resolved request may wait for its resolution hook
	// before the cron worker settles its parked mutation.
	RedriveGrace time.Duration `envconfig:"LEDGERGATE_APPROVALS_REDRIVE_GRACE" default:"2m"`
}

type AuditConfig struct {
	ChecksumKey string `envconfig:"LEDGERGATE_AUDIT_CHECKSUM_KEY" required:"true"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"LEDGERGATE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"LEDGERGATE_CRON_LOCK_TTL" default:"10m"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEDGERGATE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEDGERGATE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEDGERGATE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LEDGERGATE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"LEDGERGATE_PUBSUB_DOMAIN_TOPIC" default:"ledgergate-domain-events"`
	AlertsTopic string `envconfig:"LEDGERGATE_PUBSUB_ALERTS_TOPIC" default:"ledgergate-alerts"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DBDriverSQLite)
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
