package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	Order        OrderConfig
	Workers      WorkerConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PHARMACY_APP_ENV" required:"true"`
	Port         string `envconfig:"PHARMACY_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"PHARMACY_APP_PUBLIC_URL" default:"http://localhost:8080"`
	FrontendURL  string `envconfig:"PHARMACY_APP_FRONTEND_URL" default:"http://localhost:3000"`
	CORSOrigins  string `envconfig:"PHARMACY_APP_CORS_ORIGINS" default:"http://localhost:3000"`
	LogLevel     string `envconfig:"PHARMACY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PHARMACY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PHARMACY_LOG_WARN_STACK" default:"false"`

	// WorkerMetricsAddr is where background workers expose /metrics; empty disables it.
	WorkerMetricsAddr string `envconfig:"PHARMACY_WORKER_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	out := []string{}
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type DBConfig struct {
	DSN string `envconfig:"PHARMACY_DB_DSN"`

	Host     string `envconfig:"PHARMACY_DB_HOST"`
	Port     int    `envconfig:"PHARMACY_DB_PORT" default:"5432"`
	User     string `envconfig:"PHARMACY_DB_USER"`
	Password string `envconfig:"PHARMACY_DB_PASSWORD"`
	Name     string `envconfig:"PHARMACY_DB_NAME"`
	SSLMode  string `envconfig:"PHARMACY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PHARMACY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHARMACY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHARMACY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHARMACY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"PHARMACY_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PHARMACY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PHARMACY_REDIS_ADDR"`
	Password     string        `envconfig:"PHARMACY_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHARMACY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHARMACY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHARMACY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHARMACY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHARMACY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHARMACY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"PHARMACY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PHARMACY_JWT_ISSUER" required:"true"`
	// ExpirationMinutes only applies to locally minted tokens (dev tooling).
	ExpirationMinutes int `envconfig:"PHARMACY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// GatewayConfig holds the SSLCommerz merchant credentials and callback wiring.
type GatewayConfig struct {
	StoreID       string        `envconfig:"PHARMACY_GATEWAY_STORE_ID" required:"true"`
	StorePassword string        `envconfig:"PHARMACY_GATEWAY_STORE_PASSWORD" required:"true"`
	Sandbox       bool          `envconfig:"PHARMACY_GATEWAY_SANDBOX" default:"true"`
	BaseURL       string        `envconfig:"PHARMACY_GATEWAY_BASE_URL"`
	Currency      string        `envconfig:"PHARMACY_GATEWAY_CURRENCY" default:"BDT"`
	Timeout       time.Duration `envconfig:"PHARMACY_GATEWAY_TIMEOUT" default:"15s"`
	// CallbackBaseURL is the public API origin the gateway posts back to.
	CallbackBaseURL string        `envconfig:"PHARMACY_GATEWAY_CALLBACK_BASE_URL"`
	IPNDedupeTTL    time.Duration `envconfig:"PHARMACY_GATEWAY_IPN_DEDUPE_TTL" default:"24h"`
}

// Endpoint resolves the gateway origin for the configured environment.
func (g GatewayConfig) Endpoint() string {
	if base := strings.TrimRight(strings.TrimSpace(g.BaseURL), "/"); base != "" {
		return base
	}
	if g.Sandbox {
		return GatewaySandboxURL
	}
	return GatewayLiveURL
}

func (g GatewayConfig) validate() error {
	if _, err := enums.ParseCurrency(g.Currency); err != nil {
		return fmt.Errorf("%s: %w", EnvGatewayCurrency, err)
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayTimeout)
	}
	return nil
}

type OrderConfig struct {
	ShippingFeeCents int64         `envconfig:"PHARMACY_ORDER_SHIPPING_FEE_CENTS" default:"0"`
	TaxBPS           int64         `envconfig:"PHARMACY_ORDER_TAX_BPS" default:"0"`
	PendingTTL       time.Duration `envconfig:"PHARMACY_ORDER_PENDING_TTL" default:"2h"`
}

type WorkerConfig struct {
	PoolSize int `envconfig:"PHARMACY_WORKER_POOL_SIZE" default:"64"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PHARMACY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PHARMACY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PHARMACY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"PHARMACY_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"PHARMACY_GCP_CREDENTIALS_FILE"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"PHARMACY_PUBSUB_DOMAIN_TOPIC" default:"pharmacy-domain-events"`
	DomainSubscription string `envconfig:"PHARMACY_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset           string `envconfig:"PHARMACY_BIGQUERY_DATASET" default:"pharmacy_analytics"`
	OrderFactsTable   string `envconfig:"PHARMACY_BIGQUERY_ORDER_FACTS_TABLE" default:"order_facts"`
	PaymentFactsTable string `envconfig:"PHARMACY_BIGQUERY_PAYMENT_FACTS_TABLE" default:"payment_facts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PHARMACY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PHARMACY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PHARMACY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PHARMACY_OUTBOX_RETENTION_DAYS" default:"30"`

	PublishTimeout time.Duration `envconfig:"PHARMACY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxBackoff     time.Duration `envconfig:"PHARMACY_OUTBOX_MAX_BACKOFF" default:"10s"`
}

// RateLimitConfig caps per-caller request rates on payment endpoints.
type RateLimitConfig struct {
	InitiateLimit  int           `envconfig:"PHARMACY_RATE_LIMIT_INITIATE_LIMIT" default:"10"`
	InitiateWindow time.Duration `envconfig:"PHARMACY_RATE_LIMIT_INITIATE_WINDOW" default:"1m"`
	VerifyLimit    int           `envconfig:"PHARMACY_RATE_LIMIT_VERIFY_LIMIT" default:"30"`
	VerifyWindow   time.Duration `envconfig:"PHARMACY_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	CallbackLimit  int           `envconfig:"PHARMACY_RATE_LIMIT_CALLBACK_LIMIT" default:"120"`
	CallbackWindow time.Duration `envconfig:"PHARMACY_RATE_LIMIT_CALLBACK_WINDOW" default:"1m"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"PHARMACY_CRON_INTERVAL" default:"1m"`
	LockTTL    time.Duration `envconfig:"PHARMACY_CRON_LOCK_TTL" default:"5m"`
	JobTimeout time.Duration `envconfig:"PHARMACY_CRON_JOB_TIMEOUT" default:"2m"`
	// NotificationRetention applies to read notifications only.
	NotificationRetention time.Duration `envconfig:"PHARMACY_CRON_NOTIFICATION_RETENTION" default:"2160h"`
	StalePaymentAge       time.Duration `envconfig:"PHARMACY_CRON_STALE_PAYMENT_AGE" default:"15m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
