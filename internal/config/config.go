package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string
	ReadTimeoutSecs  int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int

	StoreBackend      string
	DBURL             string
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	TxMaxRetries           int
	DefaultRadiusMeters    float64
	MaxRadiusMeters        float64
	DefaultMaxResults      int
	MaxResultsLimit        int
	MaxRating              float64
	SearchTimeoutSecs      int
	RateTimeoutSecs        int
	RefreshThresholdMeters float64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults and
// validation. A .env file in the working directory is read first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		ReadTimeoutSecs:  getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DBURL:             os.Getenv("DB_URL"),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "coffeemap:"),

		TxMaxRetries:           getEnvInt("TX_MAX_RETRIES", 5),
		DefaultRadiusMeters:    getEnvFloat("DEFAULT_RADIUS_METERS", 5000),
		MaxRadiusMeters:        getEnvFloat("MAX_RADIUS_METERS", 50000),
		DefaultMaxResults:      getEnvInt("DEFAULT_MAX_RESULTS", 10),
		MaxResultsLimit:        getEnvInt("MAX_RESULTS_LIMIT", 100),
		MaxRating:              getEnvFloat("MAX_RATING", 5),
		SearchTimeoutSecs:      getEnvInt("SEARCH_TIMEOUT_SECS", 5),
		RateTimeoutSecs:        getEnvInt("RATE_TIMEOUT_SECS", 5),
		RefreshThresholdMeters: getEnvFloat("REFRESH_THRESHOLD_METERS", 500),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required for the postgres backend")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendMemory:
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be one of postgres, redis, memory (got %q)", cfg.StoreBackend)
	}

	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be non-negative")
	}
	if cfg.TxMaxRetries <= 0 {
		return Config{}, fmt.Errorf("TX_MAX_RETRIES must be positive")
	}
	if cfg.MaxRadiusMeters <= 0 {
		return Config{}, fmt.Errorf("MAX_RADIUS_METERS must be positive")
	}
	if cfg.DefaultRadiusMeters < 0 || cfg.DefaultRadiusMeters > cfg.MaxRadiusMeters {
		return Config{}, fmt.Errorf("DEFAULT_RADIUS_METERS must be within [0, MAX_RADIUS_METERS]")
	}
	if cfg.MaxResultsLimit <= 0 {
		return Config{}, fmt.Errorf("MAX_RESULTS_LIMIT must be positive")
	}
	if cfg.DefaultMaxResults <= 0 || cfg.DefaultMaxResults > cfg.MaxResultsLimit {
		return Config{}, fmt.Errorf("DEFAULT_MAX_RESULTS must be within [1, MAX_RESULTS_LIMIT]")
	}
	if cfg.MaxRating <= 0 {
		return Config{}, fmt.Errorf("MAX_RATING must be positive")
	}
	if cfg.SearchTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("SEARCH_TIMEOUT_SECS must be positive")
	}
	if cfg.RateTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("RATE_TIMEOUT_SECS must be positive")
	}
	if cfg.RefreshThresholdMeters < 0 {
		return Config{}, fmt.Errorf("REFRESH_THRESHOLD_METERS must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
