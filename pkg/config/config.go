package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Storage       StorageConfig
	Uploads       UploadsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Changefeed    ChangefeedConfig
	Housekeeping  HousekeepingConfig
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
	Env          string   `envconfig:"TIDECRATE_APP_ENV" required:"true"`
	Port         string   `envconfig:"TIDECRATE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"TIDECRATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"TIDECRATE_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"TIDECRATE_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"TIDECRATE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN                string        `envconfig:"TIDECRATE_DB_DSN"`
	SlowQueryThreshold time.Duration `envconfig:"TIDECRATE_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`

	LegacyHost     string `envconfig:"TIDECRATE_DB_HOST"`
	LegacyPort     int    `envconfig:"TIDECRATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TIDECRATE_DB_USER"`
	LegacyPassword string `envconfig:"TIDECRATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TIDECRATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TIDECRATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TIDECRATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TIDECRATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TIDECRATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TIDECRATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TIDECRATE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TIDECRATE_REDIS_ADDR"`
	Password     string        `envconfig:"TIDECRATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TIDECRATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TIDECRATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TIDECRATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TIDECRATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TIDECRATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TIDECRATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"TIDECRATE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"TIDECRATE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"TIDECRATE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"TIDECRATE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"TIDECRATE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"TIDECRATE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"TIDECRATE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"TIDECRATE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"TIDECRATE_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	SigninWindow     time.Duration `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNIN_WINDOW" default:"1m"`
	SigninEmailLimit int           `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNIN_EMAIL_LIMIT" default:"5"`
	SigninIPLimit    int           `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNIN_IP_LIMIT" default:"20"`
	SignupWindow     time.Duration `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNUP_WINDOW" default:"5m"`
	SignupEmailLimit int           `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNUP_EMAIL_LIMIT" default:"3"`
	SignupIPLimit    int           `envconfig:"TIDECRATE_AUTH_RATE_LIMIT_SIGNUP_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate    bool `envconfig:"TIDECRATE_AUTO_MIGRATE" default:"false"`
	PublicProducts bool `envconfig:"TIDECRATE_PUBLIC_PRODUCT_IMAGES" default:"true"`
}

// StorageConfig points the blob store at an S3 (or S3-compatible) bucket.
type StorageConfig struct {
	Bucket          string        `envconfig:"TIDECRATE_STORAGE_BUCKET" required:"true"`
	Region          string        `envconfig:"TIDECRATE_STORAGE_REGION" default:"eu-west-1"`
	Endpoint        string        `envconfig:"TIDECRATE_STORAGE_ENDPOINT"`
	AccessKeyID     string        `envconfig:"TIDECRATE_STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string        `envconfig:"TIDECRATE_STORAGE_SECRET_ACCESS_KEY"`
	PublicBaseURL   string        `envconfig:"TIDECRATE_STORAGE_PUBLIC_BASE_URL"`
	UsePathStyle    bool          `envconfig:"TIDECRATE_STORAGE_USE_PATH_STYLE" default:"false"`
	SignedURLExpiry time.Duration `envconfig:"TIDECRATE_STORAGE_SIGNED_URL_EXPIRY" default:"15m"`
}

type UploadsConfig struct {
	MaxCertificateBytes int64 `envconfig:"TIDECRATE_UPLOAD_MAX_CERTIFICATE_BYTES" default:"10485760"`
	MaxReceiptBytes     int64 `envconfig:"TIDECRATE_UPLOAD_MAX_RECEIPT_BYTES" default:"10485760"`
	MaxImageBytes       int64 `envconfig:"TIDECRATE_UPLOAD_MAX_IMAGE_BYTES" default:"5242880"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TIDECRATE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"TIDECRATE_PUBSUB_ORDERS_TOPIC" default:"tc-order-events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"TIDECRATE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"TIDECRATE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"TIDECRATE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"TIDECRATE_OUTBOX_METRICS_ADDR"`
}

type ChangefeedConfig struct {
	ChannelPrefix string `envconfig:"TIDECRATE_CHANGEFEED_CHANNEL_PREFIX" default:"tc:changes"`
}

// HousekeepingConfig drives the scheduled cleanup worker.
type HousekeepingConfig struct {
	Interval            time.Duration `envconfig:"TIDECRATE_HOUSEKEEPING_INTERVAL" default:"6h"`
	LockTTL             time.Duration `envconfig:"TIDECRATE_HOUSEKEEPING_LOCK_TTL" default:"1h"`
	OutboxRetentionDays int           `envconfig:"TIDECRATE_HOUSEKEEPING_OUTBOX_RETENTION_DAYS" default:"14"`
	CartIdleDays        int           `envconfig:"TIDECRATE_HOUSEKEEPING_CART_IDLE_DAYS" default:"60"`
	MetricsAddr         string        `envconfig:"TIDECRATE_HOUSEKEEPING_METRICS_ADDR"`
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
