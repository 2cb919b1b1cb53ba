package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	LogLevel string

	DatabaseURL    string `validate:"required"`
	DBMaxOpenConns int    `validate:"gte=1"`
	DBMaxIdleConns int    `validate:"gte=0"`
	DBConnMaxLife  time.Duration

	AMQPURL          string `validate:"omitempty,url"`
	RedisAddress     string `validate:"required_with=AMQPURL"`
	RedisPassword    string
	RedisDB          int           `validate:"gte=0"`
	BrokerTimeout    time.Duration `validate:"gt=0"`
	BrokerDedupTTL   time.Duration `validate:"gt=0"`
	MinProbeInterval time.Duration `validate:"gt=0"`
	FallbackPoll     time.Duration `validate:"gt=0"`
	FallbackStale    time.Duration `validate:"gt=0"`
	PruneInterval    time.Duration `validate:"gt=0"`

	GatewayBaseURL  string `validate:"omitempty,url"`
	GatewayAPIKey   string
	GatewaySenderID string
	GatewayTimeout  time.Duration `validate:"gt=0"`
	PhoneRegion     string        `validate:"len=2"`

	FeedTimeout  time.Duration `validate:"gt=0"`
	FeedRate     float64       `validate:"gt=0"`
	FeedPageSize int           `validate:"gte=1,lte=500"`
	FeedMaxPages int           `validate:"gte=1"`

	SchedulerInterval  time.Duration `validate:"gt=0"`
	SchedulerBatchSize int           `validate:"gte=1"`
	StartupDelay       time.Duration

	SyncInterval     time.Duration `validate:"gt=0"`
	SyncConcurrency  int           `validate:"gte=1"`
	SyncRefineWindow time.Duration
	SyncLockTTL      time.Duration `validate:"gt=0"`

	EventPollInterval    time.Duration `validate:"gt=0"`
	EventLowWaterSample  int           `validate:"gte=1"`
	EventDefaultLookBack time.Duration `validate:"gt=0"`
	EventMaxLookBack     time.Duration `validate:"gt=0"`
	EventRetention       time.Duration `validate:"gt=0"`

	OpsAddr string
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: stringFromEnv("LOG_LEVEL", "info"),

		DatabaseURL:    databaseURL(),
		DBMaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: intFromEnv("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLife:  durationFromEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),

		AMQPURL:          os.Getenv("AMQP_URL"),
		RedisAddress:     os.Getenv("REDIS_ADDRESS"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          intFromEnv("REDIS_DB", 0),
		BrokerTimeout:    durationFromEnv("BROKER_TIMEOUT", 5*time.Second),
		BrokerDedupTTL:   durationFromEnv("BROKER_DEDUP_TTL", 24*time.Hour),
		MinProbeInterval: durationFromEnv("BROKER_PROBE_INTERVAL", 15*time.Second),
		FallbackPoll:     durationFromEnv("FALLBACK_POLL_INTERVAL", 2*time.Second),
		FallbackStale:    durationFromEnv("FALLBACK_STALE_AFTER", 10*time.Minute),
		PruneInterval:    durationFromEnv("PRUNE_INTERVAL", time.Hour),

		GatewayBaseURL:  os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:   os.Getenv("GATEWAY_API_KEY"),
		GatewaySenderID: os.Getenv("GATEWAY_SENDER_ID"),
		GatewayTimeout:  durationFromEnv("GATEWAY_TIMEOUT", 10*time.Second),
		PhoneRegion:     strings.ToUpper(stringFromEnv("PHONE_DEFAULT_REGION", "KE")),

		FeedTimeout:  durationFromEnv("FEED_TIMEOUT", 15*time.Second),
		FeedRate:     floatFromEnv("FEED_REQUESTS_PER_SECOND", 5),
		FeedPageSize: intFromEnv("FEED_PAGE_SIZE", 100),
		FeedMaxPages: intFromEnv("FEED_MAX_PAGES", 20),

		SchedulerInterval:  durationFromEnv("SCHEDULER_INTERVAL", 30*time.Second),
		SchedulerBatchSize: intFromEnv("SCHEDULER_BATCH_SIZE", 50),
		StartupDelay:       durationFromEnv("STARTUP_DELAY", 10*time.Second),

		SyncInterval:     durationFromEnv("SYNC_INTERVAL", 2*time.Minute),
		SyncConcurrency:  intFromEnv("SYNC_CONCURRENCY", 5),
		SyncRefineWindow: durationFromEnv("SYNC_REFINE_WINDOW", 72*time.Hour),
		SyncLockTTL:      durationFromEnv("SYNC_LOCK_TTL", 2*time.Minute),

		EventPollInterval:    durationFromEnv("EVENT_POLL_INTERVAL", time.Minute),
		EventLowWaterSample:  intFromEnv("EVENT_LOW_WATER_SAMPLE", 50),
		EventDefaultLookBack: durationFromEnv("EVENT_DEFAULT_LOOKBACK", time.Hour),
		EventMaxLookBack:     durationFromEnv("EVENT_MAX_LOOKBACK", 24*time.Hour),
		EventRetention:       durationFromEnv("EVENT_RETENTION", 7*24*time.Hour),

		OpsAddr: stringFromEnv("OPS_ADDR", ":8081"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.EventRetention <= c.EventMaxLookBack {
		return errors.New("invalid config: EVENT_RETENTION must exceed EVENT_MAX_LOOKBACK")
	}
	if c.EventDefaultLookBack > c.EventMaxLookBack {
		return errors.New("invalid config: EVENT_DEFAULT_LOOKBACK must not exceed EVENT_MAX_LOOKBACK")
	}
	return nil
}

// databaseURL prefers DATABASE_URL and falls back to the DB_* variables.
func databaseURL() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	sslMode := stringFromEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, stringFromEnv("DB_PORT", "5432"), os.Getenv("DB_NAME"), sslMode,
	)
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// durationFromEnv accepts Go durations ("30s") or a bare number of seconds.
func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
