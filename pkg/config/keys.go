package config

const (
	EnvPrefix = "TIDECRATE"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv                 = "TIDECRATE_APP_ENV"
	EnvPort                   = "TIDECRATE_APP_PORT"
	EnvDBDSN                  = "TIDECRATE_DB_DSN"
	EnvDBHost                 = "TIDECRATE_DB_HOST"
	EnvDBUser                 = "TIDECRATE_DB_USER"
	EnvDBName                 = "TIDECRATE_DB_NAME"
	EnvRedisURL               = "TIDECRATE_REDIS_URL"
	EnvJWTSecret              = "TIDECRATE_JWT_SECRET"
	EnvJWTIssuer              = "TIDECRATE_JWT_ISSUER"
	EnvJWTExpMins             = "TIDECRATE_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "TIDECRATE_REFRESH_TOKEN_TTL_MINUTES"
	EnvStorageBucket          = "TIDECRATE_STORAGE_BUCKET"
	EnvStorageSignedURLExpiry = "TIDECRATE_STORAGE_SIGNED_URL_EXPIRY"
	EnvMaxCertificateBytes    = "TIDECRATE_UPLOAD_MAX_CERTIFICATE_BYTES"
	EnvGCPProjectID           = "TIDECRATE_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic      = "TIDECRATE_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
