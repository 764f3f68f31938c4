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
	FeatureFlags FeatureFlagsConfig
	Attribution  AttributionConfig
	Remap        RemapConfig
	Cron         CronConfig
	Forwarding   ForwardingConfig
	AdPlatform   AdPlatformConfig
	Cache        CacheConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Webhook      WebhookConfig
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
	if err := cfg.Forwarding.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ATTRIBUTION_APP_ENV" required:"true"`
	Port         string `envconfig:"ATTRIBUTION_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ATTRIBUTION_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"ATTRIBUTION_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"ATTRIBUTION_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ATTRIBUTION_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ATTRIBUTION_DB_DSN"`
	Driver string `envconfig:"ATTRIBUTION_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ATTRIBUTION_DB_HOST"`
	LegacyPort     int    `envconfig:"ATTRIBUTION_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ATTRIBUTION_DB_USER"`
	LegacyPassword string `envconfig:"ATTRIBUTION_DB_PASSWORD"`
	LegacyName     string `envconfig:"ATTRIBUTION_DB_NAME"`
	LegacySSLMode  string `envconfig:"ATTRIBUTION_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ATTRIBUTION_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATTRIBUTION_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATTRIBUTION_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATTRIBUTION_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ATTRIBUTION_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ATTRIBUTION_REDIS_ADDR"`
	Password     string        `envconfig:"ATTRIBUTION_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATTRIBUTION_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATTRIBUTION_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATTRIBUTION_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATTRIBUTION_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATTRIBUTION_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATTRIBUTION_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies dashboard tokens presented to the diagnostics API. Tokens
// are minted by the account service; this service never issues them.
type JWTConfig struct {
	Secret string `envconfig:"ATTRIBUTION_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"ATTRIBUTION_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ATTRIBUTION_AUTO_MIGRATE" default:"false"`
}

// AttributionConfig carries the empirically tuned matching thresholds.
type AttributionConfig struct {
	ProximityWindowMinutes int     `envconfig:"ATTRIBUTION_PROXIMITY_WINDOW_MINUTES" default:"120"`
	AmbiguitySeconds       int     `envconfig:"ATTRIBUTION_AMBIGUITY_SECONDS" default:"120"`
	ClickIDFloor           float64 `envconfig:"ATTRIBUTION_CLICK_ID_FLOOR" default:"0.20"`
	FBCFloor               float64 `envconfig:"ATTRIBUTION_FBC_FLOOR" default:"0.22"`
	WeakSignalFloor        float64 `envconfig:"ATTRIBUTION_WEAK_SIGNAL_FLOOR" default:"0.28"`
	GlobalFloor            float64 `envconfig:"ATTRIBUTION_GLOBAL_FLOOR" default:"0.25"`
	SignalCandidateLimit   int     `envconfig:"ATTRIBUTION_SIGNAL_CANDIDATE_LIMIT" default:"250"`
}

type RemapConfig struct {
	Lookback     time.Duration `envconfig:"ATTRIBUTION_REMAP_LOOKBACK" default:"168h"`
	UnmappedCap  int           `envconfig:"ATTRIBUTION_REMAP_UNMAPPED_CAP" default:"500"`
	MappedCap    int           `envconfig:"ATTRIBUTION_REMAP_MAPPED_CAP" default:"5000"`
	StoreLimit   int           `envconfig:"ATTRIBUTION_REMAP_STORE_LIMIT" default:"200"`
	ExportWindow time.Duration `envconfig:"ATTRIBUTION_EXPORT_WINDOW" default:"24h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ATTRIBUTION_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"ATTRIBUTION_CRON_LOCK_TTL" default:"30m"`
}

type ForwardingConfig struct {
	Mode           string        `envconfig:"ATTRIBUTION_FORWARDING_MODE" default:"inline"`
	PublishTimeout time.Duration `envconfig:"ATTRIBUTION_FORWARDING_PUBLISH_TIMEOUT" default:"10s"`
	MaxErrorLength int           `envconfig:"ATTRIBUTION_FORWARDING_MAX_ERROR_LENGTH" default:"500"`
}

// UsesPubSub reports whether forwarding jobs travel through Pub/Sub.
func (f ForwardingConfig) UsesPubSub() bool {
	return strings.EqualFold(strings.TrimSpace(f.Mode), ForwardingModePubSub)
}

func (f ForwardingConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(f.Mode))
	switch mode {
	case ForwardingModeInline, ForwardingModePubSub, ForwardingModeOff:
		return nil
	}
	return fmt.Errorf("%s must be one of inline, pubsub, off (got %q)", EnvForwardingMode, f.Mode)
}

type AdPlatformConfig struct {
	BaseURL    string        `envconfig:"ATTRIBUTION_ADS_BASE_URL" default:"https://graph.facebook.com"`
	APIVersion string        `envconfig:"ATTRIBUTION_ADS_API_VERSION" default:"v19.0"`
	Timeout    time.Duration `envconfig:"ATTRIBUTION_ADS_TIMEOUT" default:"8s"`
}

type CacheConfig struct {
	EntityNameTTL time.Duration `envconfig:"ATTRIBUTION_CACHE_ENTITY_NAME_TTL" default:"6h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ATTRIBUTION_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ATTRIBUTION_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ATTRIBUTION_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ForwardingTopic        string `envconfig:"ATTRIBUTION_PUBSUB_FORWARDING_TOPIC" default:"attribution-forwarding"`
	ForwardingSubscription string `envconfig:"ATTRIBUTION_PUBSUB_FORWARDING_SUBSCRIPTION" default:"attribution-forwarding-worker"`
}

type BigQueryConfig struct {
	Enabled          bool   `envconfig:"ATTRIBUTION_BIGQUERY_ENABLED" default:"false"`
	Dataset          string `envconfig:"ATTRIBUTION_BIGQUERY_DATASET" default:"attribution"`
	AttributionTable string `envconfig:"ATTRIBUTION_BIGQUERY_TABLE" default:"purchase_attribution"`
}

// WebhookConfig bounds inbound commerce webhooks. Deliveries repeating a
// webhook id within DedupTTL are acknowledged without reprocessing.
type WebhookConfig struct {
	DedupTTL     time.Duration `envconfig:"ATTRIBUTION_WEBHOOK_DEDUP_TTL" default:"24h"`
	MaxBodyBytes int64         `envconfig:"ATTRIBUTION_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

// RateLimitConfig throttles the public collect endpoint per client IP and per
// shop domain. A zero limit disables that counter.
type RateLimitConfig struct {
	CollectPerMinute      int64 `envconfig:"ATTRIBUTION_RATE_LIMIT_COLLECT_PER_MINUTE" default:"600"`
	CollectStorePerMinute int64 `envconfig:"ATTRIBUTION_RATE_LIMIT_COLLECT_STORE_PER_MINUTE" default:"6000"`
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
