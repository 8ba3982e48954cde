package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	LogLevel   string
	DBAdapter  string
	SQLiteFile string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MigrationsDir    string

	// Cache backend for videos and daily metrics: db, file or redis
	CacheBackend  string
	CacheDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EncryptionKey string
	StateSecret   string

	GoogleClientID     string
	GoogleClientSecret string
	APIBaseURL         string
	FrontendURL        string
	APIKey             string

	DailyMetricsMaxAge   time.Duration
	MetricsStartDate     time.Time
	SyncWindowDays       int
	HTTPTimeout          time.Duration
	RefreshRatePerMinute int
	OperatorKeyHash      string
	DemoChannelID        model.ChannelID
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// IsProduction reports whether ENV (or NODE_ENV) names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// New loads an optional .env file and builds the configuration from the
// environment. The returned value is not modified afterwards.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8080"),
		Env:        strings.ToLower(getenv("ENV", getenv("NODE_ENV", ""))),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		DBAdapter:  getenv("DB_ADAPTER", "sqlite"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/ytdash.db"),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "ytdash")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "ytdash")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "./migrations"),

		CacheBackend:  getenv("CACHE_BACKEND", "db"),
		CacheDir:      getenv("CACHE_DIR", "./data/cache"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		StateSecret:   os.Getenv("STATE_SECRET"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		APIBaseURL:         strings.TrimRight(os.Getenv("API_BASE_URL"), "/"),
		FrontendURL:        strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		APIKey:             os.Getenv("API_KEY"),

		OperatorKeyHash: os.Getenv("OPERATOR_KEY_HASH"),
		DemoChannelID:   model.ChannelID(os.Getenv("DEMO_CHANNEL_ID")),
	}

	var err error
	if c.RedisDB, err = strconv.Atoi(getenv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if c.DailyMetricsMaxAge, err = time.ParseDuration(getenv("DAILY_METRICS_MAX_AGE", "4h")); err != nil {
		return nil, fmt.Errorf("invalid DAILY_METRICS_MAX_AGE: %w", err)
	}
	if c.HTTPTimeout, err = time.ParseDuration(getenv("HTTP_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	if c.MetricsStartDate, err = model.ParseDay(getenv("METRICS_START_DATE", "2022-12-31")); err != nil {
		return nil, fmt.Errorf("invalid METRICS_START_DATE: %w", err)
	}
	if c.SyncWindowDays, err = strconv.Atoi(getenv("SYNC_WINDOW_DAYS", "3")); err != nil || c.SyncWindowDays < 1 {
		return nil, fmt.Errorf("invalid SYNC_WINDOW_DAYS: %s", os.Getenv("SYNC_WINDOW_DAYS"))
	}
	if c.RefreshRatePerMinute, err = strconv.Atoi(getenv("REFRESH_RATE_PER_MINUTE", "6")); err != nil || c.RefreshRatePerMinute < 1 {
		return nil, fmt.Errorf("invalid REFRESH_RATE_PER_MINUTE: %s", os.Getenv("REFRESH_RATE_PER_MINUTE"))
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.CacheBackend {
	case "db", "file", "redis":
	default:
		return nil, fmt.Errorf("unsupported CACHE_BACKEND: %s (supported: db, file, redis)", c.CacheBackend)
	}

	if c.IsProduction() {
		if c.EncryptionKey == "" {
			return nil, errors.New("ENCRYPTION_KEY must be set in production")
		}
		if c.StateSecret == "" {
			return nil, errors.New("STATE_SECRET must be set in production")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
