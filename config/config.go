package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string
	DatabaseName string
	StoreBackend string // "postgres" or "memory"

	// Points configuration
	StartingBalance int64

	// Users allowed to lock any bet in addition to its creator
	AdminUserIDs []int64

	// Event fan-out: "local", "nats" or "kafka"
	EventBus     string
	NATSServers  string
	KafkaBrokers string
	KafkaTopic   string

	// Redis backs the distributed stake lock when set
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	StakeLockTTL  time.Duration

	// HTTP surfaces
	HTTPAddr    string
	MetricsAddr string

	// Background worker
	SweepInterval        time.Duration
	ExpiringNoticeWindow time.Duration
	ReconcileBatchSize   int

	// Retry bounds
	StoreRetryAttempts  uint
	PayoutRetryAttempts uint

	// Logging
	LogLevel  string
	LogFormat string

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// NewTestConfig returns a configuration suitable for tests without reading the environment
func NewTestConfig() *Config {
	cfg := defaults()
	cfg.Environment = "test"
	cfg.StoreBackend = "memory"
	cfg.StoreRetryAttempts = 3
	cfg.PayoutRetryAttempts = 2
	return cfg
}

// IsAdmin reports whether userID may perform administrative bet actions
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func defaults() *Config {
	return &Config{
		StoreBackend:         "postgres",
		StartingBalance:      1000,
		EventBus:             "local",
		NATSServers:          "nats://localhost:4222",
		KafkaTopic:           "bet-events",
		StakeLockTTL:         10 * time.Second,
		HTTPAddr:             ":8080",
		MetricsAddr:          ":9090",
		SweepInterval:        30 * time.Second,
		ExpiringNoticeWindow: time.Hour,
		ReconcileBatchSize:   100,
		StoreRetryAttempts:   3,
		PayoutRetryAttempts:  3,
		LogLevel:             "info",
		LogFormat:            "text",
		Environment:          "development",
	}
}

// load loads configuration from environment variables, reading a .env file first when present
func load() (*Config, error) {
	_ = godotenv.Load()

	config := defaults()

	config.DatabaseURL = os.Getenv("DATABASE_URL")
	config.DatabaseName = os.Getenv("DATABASE_NAME")
	config.RedisAddr = os.Getenv("REDIS_ADDR")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	config.KafkaBrokers = os.Getenv("KAFKA_BROKERS")

	setString(&config.StoreBackend, "STORE_BACKEND")
	setString(&config.EventBus, "EVENT_BUS")
	setString(&config.NATSServers, "NATS_SERVERS")
	setString(&config.KafkaTopic, "KAFKA_TOPIC")
	setString(&config.HTTPAddr, "HTTP_ADDR")
	setString(&config.MetricsAddr, "METRICS_ADDR")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")
	setString(&config.Environment, "ENVIRONMENT")

	if balance := os.Getenv("STARTING_BALANCE"); balance != "" {
		if parsed, err := strconv.ParseInt(balance, 10, 64); err == nil {
			config.StartingBalance = parsed
		}
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil {
			config.RedisDB = parsed
		}
	}
	if tlsFlag := os.Getenv("REDIS_TLS"); tlsFlag != "" {
		if parsed, err := strconv.ParseBool(tlsFlag); err == nil {
			config.RedisTLS = parsed
		}
	}
	if size := os.Getenv("RECONCILE_BATCH_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil && parsed > 0 {
			config.ReconcileBatchSize = parsed
		}
	}
	setUint(&config.StoreRetryAttempts, "STORE_RETRY_ATTEMPTS")
	setUint(&config.PayoutRetryAttempts, "PAYOUT_RETRY_ATTEMPTS")
	setDuration(&config.StakeLockTTL, "STAKE_LOCK_TTL")
	setDuration(&config.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&config.ExpiringNoticeWindow, "EXPIRING_NOTICE_WINDOW")

	// Parse admin user IDs
	if adminIDs := os.Getenv("ADMIN_USER_IDS"); adminIDs != "" {
		for _, idStr := range strings.Split(adminIDs, ",") {
			idStr = strings.TrimSpace(idStr)
			if idStr == "" {
				continue
			}
			if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
				config.AdminUserIDs = append(config.AdminUserIDs, id)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ConnectionURL returns DatabaseURL pointed at DatabaseName when one is set.
// Existing query parameters are kept and sslmode defaults to disable.
func (c *Config) ConnectionURL() (string, error) {
	if c.DatabaseName == "" {
		return c.DatabaseURL, nil
	}

	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	u.Path = "/" + c.DatabaseName
	u.RawPath = ""

	query := u.Query()
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Validate checks the combinations that cannot work at runtime
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" && c.Environment != "test" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.EventBus {
	case "local", "nats":
	case "kafka":
		if c.KafkaBrokers == "" {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BUS=kafka")
		}
	default:
		return fmt.Errorf("unknown EVENT_BUS %q", c.EventBus)
	}

	if c.StoreRetryAttempts == 0 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.PayoutRetryAttempts == 0 {
		return fmt.Errorf("PAYOUT_RETRY_ATTEMPTS must be at least 1")
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE cannot be negative")
	}
	return nil
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setUint(target *uint, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			*target = uint(parsed)
		}
	}
}

func setDuration(target *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}
