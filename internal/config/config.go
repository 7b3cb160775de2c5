package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis        RedisConfig
	GooglePlay   GooglePlayConfig
	Subscription SubscriptionConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type GooglePlayConfig struct {
	PackageName     string
	CredentialsJSON string
	Mock            bool
	VerifyTimeout   time.Duration
	// WebhookToken, when set, must match the push endpoint's ?token= query.
	WebhookToken string
}

type SubscriptionConfig struct {
	GracePeriodDays  int
	FreePlanDuration time.Duration
	UserLockTTL      time.Duration
}

// RateLimitConfig throttles verify and resync per user. VerifyRate is tokens per second.
type RateLimitConfig struct {
	VerifyRate  float64
	VerifyBurst int
}

type EventsConfig struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "learnitin"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "learnitin"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		GooglePlay: GooglePlayConfig{
			PackageName:     strings.TrimSpace(getenv("GOOGLE_PLAY_PACKAGE_NAME", "")),
			CredentialsJSON: strings.TrimSpace(getenv("GOOGLE_PLAY_CREDENTIALS_JSON", "")),
			Mock:            getenvBool("GOOGLE_PLAY_MOCK", false),
			VerifyTimeout:   getenvDuration("GOOGLE_PLAY_VERIFY_TIMEOUT", 10*time.Second),
			WebhookToken:    strings.TrimSpace(getenv("GOOGLE_PLAY_WEBHOOK_TOKEN", "")),
		},
		Subscription: SubscriptionConfig{
			GracePeriodDays:  getenvInt("SUBSCRIPTION_GRACE_PERIOD_DAYS", 3),
			FreePlanDuration: time.Duration(getenvInt("FREE_PLAN_DURATION_DAYS", 30)) * 24 * time.Hour,
			UserLockTTL:      getenvDuration("SUBSCRIPTION_USER_LOCK_TTL", 30*time.Second),
		},
		Events: EventsConfig{
			Workers:        getenvInt("EVENT_WORKERS", 4),
			QueueSize:      getenvInt("EVENT_QUEUE_SIZE", 256),
			HandlerTimeout: getenvDuration("EVENT_HANDLER_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			VerifyRate:  getenvFloat("RATE_LIMIT_VERIFY_RATE", 0.2),
			VerifyBurst: getenvInt("RATE_LIMIT_VERIFY_BURST", 5),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
