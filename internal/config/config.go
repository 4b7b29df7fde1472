package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "LedgerProcessor"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultTransactionsQueue = "transactions_queue"
	defaultBalanceQueue      = "calculate_balance_queue"
	defaultPrefetch          = 10
	defaultShutdownDelay     = 10 * time.Second
	defaultBalanceTTL        = 24 * time.Hour
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
	balanceTTLSecondsEnvVar  = "BALANCE_TTL_SECONDS"
	balanceTTLDurEnvVar      = "BALANCE_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	AMQPURL           string
	TransactionsQueue string
	BalanceQueue      string
	Prefetch          int
	ShutdownPeriod    time.Duration
	BalanceTTL        time.Duration
	Migrate           bool
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		TransactionsQueue: getEnv("TRANSACTIONS_QUEUE", defaultTransactionsQueue),
		BalanceQueue:      getEnv("BALANCE_QUEUE", defaultBalanceQueue),
		Prefetch:          defaultPrefetch,
		ShutdownPeriod:    defaultShutdownDelay,
		BalanceTTL:        defaultBalanceTTL,
	}

	if v := os.Getenv("AMQP_PREFETCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid AMQP_PREFETCH %q", v)
		}
		cfg.Prefetch = n
	}

	if v := os.Getenv("MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIGRATE: %w", err)
		}
		cfg.Migrate = b
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.BalanceTTL, err = durationEnv(balanceTTLSecondsEnvVar, balanceTTLDurEnvVar, cfg.BalanceTTL); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.AMQPURL == "" {
		return Config{}, fmt.Errorf("AMQP_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv reads a duration from secondsKey (integer seconds) or, failing
// that, durationKey (Go duration syntax).
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
