package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so the
// prefix only matters for fields without one.
const EnvPrefix = "ATTRIBUTION"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ForwardingModeInline = "inline"
	ForwardingModePubSub = "pubsub"
	ForwardingModeOff    = "off"
)

const (
	EnvAppEnv    = "ATTRIBUTION_APP_ENV"
	EnvPort      = "ATTRIBUTION_APP_PORT"
	EnvDBDSN     = "ATTRIBUTION_DB_DSN"
	EnvDBHost    = "ATTRIBUTION_DB_HOST"
	EnvDBUser    = "ATTRIBUTION_DB_USER"
	EnvDBName    = "ATTRIBUTION_DB_NAME"
	EnvRedisURL  = "ATTRIBUTION_REDIS_URL"
	EnvJWTSecret = "ATTRIBUTION_JWT_SECRET"
	EnvJWTIssuer = "ATTRIBUTION_JWT_ISSUER"

	EnvForwardingMode         = "ATTRIBUTION_FORWARDING_MODE"
	EnvProximityWindowMinutes = "ATTRIBUTION_PROXIMITY_WINDOW_MINUTES"
	EnvClickIDFloor           = "ATTRIBUTION_CLICK_ID_FLOOR"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
