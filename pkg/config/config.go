package config

import (
	"fmt"
	"net/url"
	"sort"
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
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Offers       OffersConfig
	P2P          P2PConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Tracing      TracingConfig
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
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADELOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADELOOP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TRADELOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADELOOP_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TRADELOOP_LOG_FORMAT" default:"json"`

	CORSAllowedOrigins []string `envconfig:"TRADELOOP_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// ConsoleLogs reports whether logs should be human-readable instead of JSON.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADELOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"TRADELOOP_DB_DSN"`

	Host     string `envconfig:"TRADELOOP_DB_HOST"`
	Port     int    `envconfig:"TRADELOOP_DB_PORT" default:"5432"`
	User     string `envconfig:"TRADELOOP_DB_USER"`
	Password string `envconfig:"TRADELOOP_DB_PASSWORD"`
	Name     string `envconfig:"TRADELOOP_DB_NAME"`
	SSLMode  string `envconfig:"TRADELOOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADELOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADELOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADELOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADELOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"TRADELOOP_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADELOOP_REDIS_URL"`
	Address      string        `envconfig:"TRADELOOP_REDIS_ADDR"`
	Password     string        `envconfig:"TRADELOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADELOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADELOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADELOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADELOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADELOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADELOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string        `envconfig:"TRADELOOP_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"TRADELOOP_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"TRADELOOP_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool `envconfig:"TRADELOOP_AUTO_MIGRATE" default:"false"`
	EnforceOfferExpiry bool `envconfig:"TRADELOOP_FEATURE_ENFORCE_OFFER_EXPIRY" default:"true"`
}

// CheckoutConfig prices delivery on catalog orders.
type CheckoutConfig struct {
	DeliveryFeeCents        int64         `envconfig:"TRADELOOP_CHECKOUT_DELIVERY_FEE_CENTS" default:"499"`
	AdditionalShopFeeCents  int64         `envconfig:"TRADELOOP_CHECKOUT_ADDITIONAL_SHOP_FEE_CENTS" default:"199"`
	DeliveryBroadcastWindow time.Duration `envconfig:"TRADELOOP_CHECKOUT_DELIVERY_BROADCAST_WINDOW" default:"30m"`
	Currency                string        `envconfig:"TRADELOOP_CHECKOUT_CURRENCY" default:"usd"`
}

func (c CheckoutConfig) validate() error {
	if c.DeliveryFeeCents < 0 || c.AdditionalShopFeeCents < 0 {
		return fmt.Errorf("%s and %s must be non-negative", EnvDeliveryFeeCents, EnvAdditionalShopFeeCents)
	}
	if c.DeliveryBroadcastWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvDeliveryBroadcastWindow)
	}
	return nil
}

type OffersConfig struct {
	TTL time.Duration `envconfig:"TRADELOOP_OFFERS_TTL" default:"48h"`
}

type P2PConfig struct {
	ShippingFeeCents int64 `envconfig:"TRADELOOP_P2P_SHIPPING_FEE_CENTS" default:"799"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"TRADELOOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"TRADELOOP_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TRADELOOP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic       string `envconfig:"TRADELOOP_PUBSUB_DOMAIN_TOPIC" default:"tl-domain-events"`
	NotificationTopic string `envconfig:"TRADELOOP_PUBSUB_NOTIFICATION_TOPIC" default:"tl-notifications"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"TRADELOOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"TRADELOOP_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int           `envconfig:"TRADELOOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionAfter time.Duration `envconfig:"TRADELOOP_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"TRADELOOP_CRON_INTERVAL" default:"1m"`
	LockTTL             time.Duration `envconfig:"TRADELOOP_CRON_LOCK_TTL" default:"55s"`
	JobTimeout          time.Duration `envconfig:"TRADELOOP_CRON_JOB_TIMEOUT" default:"5m"`
	StalePaymentAfter   time.Duration `envconfig:"TRADELOOP_CRON_STALE_PAYMENT_AFTER" default:"30m"`
	PaymentRecheckAfter time.Duration `envconfig:"TRADELOOP_CRON_PAYMENT_RECHECK_AFTER" default:"2h"`
}

type RateLimitConfig struct {
	Window     time.Duration `envconfig:"TRADELOOP_RATE_LIMIT_WINDOW" default:"1m"`
	APILimit   int           `envconfig:"TRADELOOP_RATE_LIMIT_API" default:"120"`
	OfferLimit int           `envconfig:"TRADELOOP_RATE_LIMIT_OFFERS" default:"10"`
}

type TracingConfig struct {
	Enabled        bool    `envconfig:"TRADELOOP_TRACING_ENABLED" default:"true"`
	SampleRatio    float64 `envconfig:"TRADELOOP_TRACING_SAMPLE_RATIO" default:"0.1"`
	JaegerEndpoint string  `envconfig:"TRADELOOP_TRACING_JAEGER_ENDPOINT"`
}

type StripeConfig struct {
	APIKey string `envconfig:"TRADELOOP_STRIPE_API_KEY"`
	Secret string `envconfig:"TRADELOOP_STRIPE_SECRET"`
	Env    string `envconfig:"TRADELOOP_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
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
