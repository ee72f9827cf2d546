// Package config reads the service configuration from the environment. A
// .env file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env         string
	ServiceName string
	HTTPPort    string
	RateLimit   int // requests per minute per client, 0 disables

	StoreDriver string // "postgres" or "memory"
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig

	Crash           CrashConfig
	Limits          LimitsConfig
	SettlementSweep string // cron spec
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	Username string
	Password string
	Schema   string
}

// URL is the postgres connection string for pgx and golang-migrate.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("search_path", d.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          string // "a:9092,b:9092", empty disables Kafka
	TopicBetOutcomes string
}

type CrashConfig struct {
	Waiting           time.Duration
	Betting           time.Duration
	Tick              time.Duration
	RetryBackoff      time.Duration
	GrowthRate        float64
	InstantCrashEvery int64
	// LeaseTTL bounds how long a crashed instance keeps other instances
	// from taking over the crash loop.
	LeaseTTL time.Duration
}

type LimitsConfig struct {
	MinStake      decimal.Decimal
	MaxStake      decimal.Decimal
	MaxSelections int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "wager"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		RateLimit:   getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		Database: DatabaseConfig{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Name:     getEnv("BLUEPRINT_DB_DATABASE", "wager"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          getEnv("KAFKA_BROKERS", ""),
			TopicBetOutcomes: getEnv("KAFKA_TOPIC_BET_OUTCOMES", "bet.outcomes"),
		},
		Limits: LimitsConfig{
			MaxSelections: getEnvAsInt("MAX_SELECTIONS", 10),
		},
		SettlementSweep: getEnv("SETTLEMENT_SWEEP", "@every 1m"),
	}

	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want postgres or memory", cfg.StoreDriver)
	}

	var err error
	crash := &cfg.Crash
	if crash.Waiting, err = getEnvDuration("CRASH_WAITING", 3*time.Second); err != nil {
		return nil, err
	}
	if crash.Betting, err = getEnvDuration("CRASH_BETTING", 5*time.Second); err != nil {
		return nil, err
	}
	if crash.Tick, err = getEnvDuration("CRASH_TICK", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if crash.RetryBackoff, err = getEnvDuration("CRASH_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if crash.GrowthRate, err = getEnvFloat("CRASH_GROWTH_RATE", 0.06); err != nil {
		return nil, err
	}
	if crash.Tick <= 0 || crash.GrowthRate <= 0 {
		return nil, fmt.Errorf("CRASH_TICK and CRASH_GROWTH_RATE must be positive")
	}
	crash.InstantCrashEvery = int64(getEnvAsInt("CRASH_INSTANT_EVERY", 33))
	if crash.LeaseTTL, err = getEnvDuration("CRASH_LEASE_TTL", 15*time.Second); err != nil {
		return nil, err
	}
	if crash.LeaseTTL < time.Second {
		return nil, fmt.Errorf("CRASH_LEASE_TTL must be at least 1s")
	}

	if cfg.Limits.MinStake, err = getEnvDecimal("MIN_STAKE", "0.10"); err != nil {
		return nil, err
	}
	if cfg.Limits.MaxStake, err = getEnvDecimal("MAX_STAKE", "10000"); err != nil {
		return nil, err
	}
	if !cfg.Limits.MaxStake.IsZero() && cfg.Limits.MaxStake.LessThan(cfg.Limits.MinStake) {
		return nil, fmt.Errorf("MAX_STAKE %s is below MIN_STAKE %s", cfg.Limits.MaxStake, cfg.Limits.MinStake)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, val, err)
		}
		return d, nil
	}
	return defaultVal, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, val, err)
		}
		return f, nil
	}
	return defaultVal, nil
}

func getEnvDecimal(key, defaultVal string) (decimal.Decimal, error) {
	val := getEnv(key, defaultVal)
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount for %s: %q (%w)", key, val, err)
	}
	return d, nil
}
