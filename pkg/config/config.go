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
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	Sweeper      SweeperConfig
	FeatureFlags FeatureFlagsConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STAGEPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"STAGEPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STAGEPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STAGEPASS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"STAGEPASS_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STAGEPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STAGEPASS_DB_DSN"`
	Driver string `envconfig:"STAGEPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STAGEPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"STAGEPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STAGEPASS_DB_USER"`
	LegacyPassword string `envconfig:"STAGEPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"STAGEPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"STAGEPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STAGEPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STAGEPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STAGEPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STAGEPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STAGEPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STAGEPASS_REDIS_ADDR"`
	Password     string        `envconfig:"STAGEPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"STAGEPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STAGEPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STAGEPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STAGEPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STAGEPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STAGEPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig configures verification of bearer tokens minted by the external
// identity service. Tokens are optional on checkout routes.
type JWTConfig struct {
	Secret string `envconfig:"STAGEPASS_JWT_SECRET"`
	Issuer string `envconfig:"STAGEPASS_JWT_ISSUER" default:"stagepass"`
}

type CheckoutConfig struct {
	// ReservationTTL bounds how long a hold keeps inventory off the market.
	ReservationTTL time.Duration `envconfig:"STAGEPASS_CHECKOUT_RESERVATION_TTL" default:"15m"`
	// CompletedRetention keeps finished sessions readable so duplicate
	// finalize calls stay idempotent.
	CompletedRetention        time.Duration `envconfig:"STAGEPASS_CHECKOUT_COMPLETED_RETENTION" default:"24h"`
	OrderIdempotencyTTL       time.Duration `envconfig:"STAGEPASS_CHECKOUT_ORDER_IDEMPOTENCY_TTL" default:"168h"`
	ReservationIdempotencyTTL time.Duration `envconfig:"STAGEPASS_CHECKOUT_RESERVATION_IDEMPOTENCY_TTL" default:"24h"`
	FinalizeLockTTL           time.Duration `envconfig:"STAGEPASS_CHECKOUT_FINALIZE_LOCK_TTL" default:"30s"`
}

type PaymentsConfig struct {
	HostedMerchantID  string        `envconfig:"STAGEPASS_PAYMENTS_HOSTED_MERCHANT_ID"`
	HostedAccessCode  string        `envconfig:"STAGEPASS_PAYMENTS_HOSTED_ACCESS_CODE"`
	HostedSHAPhrase   string        `envconfig:"STAGEPASS_PAYMENTS_HOSTED_SHA_PHRASE"`
	HostedPaymentURL  string        `envconfig:"STAGEPASS_PAYMENTS_HOSTED_PAYMENT_URL"`
	HostedStatusURL   string        `envconfig:"STAGEPASS_PAYMENTS_HOSTED_STATUS_URL"`
	ReturnURLBase     string        `envconfig:"STAGEPASS_PAYMENTS_RETURN_URL_BASE"`
	StatusMaxRetries  uint64        `envconfig:"STAGEPASS_PAYMENTS_STATUS_MAX_RETRIES" default:"3"`
	StatusRetryDelay  time.Duration `envconfig:"STAGEPASS_PAYMENTS_STATUS_RETRY_DELAY" default:"500ms"`
	StatusCallTimeout time.Duration `envconfig:"STAGEPASS_PAYMENTS_STATUS_CALL_TIMEOUT" default:"10s"`
}

type SweeperConfig struct {
	Interval    time.Duration `envconfig:"STAGEPASS_SWEEPER_INTERVAL" default:"1m"`
	BatchSize   int           `envconfig:"STAGEPASS_SWEEPER_BATCH_SIZE" default:"200"`
	MetricsPort string        `envconfig:"STAGEPASS_SWEEPER_METRICS_PORT" default:"9091"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STAGEPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STAGEPASS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STAGEPASS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STAGEPASS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STAGEPASS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"STAGEPASS_PUBSUB_ORDERS_TOPIC" default:"sp-order-events"`
	OrdersSubscription string `envconfig:"STAGEPASS_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STAGEPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STAGEPASS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STAGEPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
