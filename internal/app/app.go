// Package app builds the component graph shared by the server and the
// one-shot binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/config"
	"github.com/example/ytdash/internal/credential"
	"github.com/example/ytdash/internal/dashboard"
	"github.com/example/ytdash/internal/model"
	"github.com/example/ytdash/internal/oauth"
	"github.com/example/ytdash/internal/secret"
	"github.com/example/ytdash/internal/storage"
	"github.com/example/ytdash/internal/syncjob"
	"github.com/example/ytdash/internal/youtube"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production deployments log JSON,
// everything else logs to the console.
func NewLogger(level string, production bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	logCfg := zap.NewProductionConfig()
	if !production {
		logCfg.Encoding = "console"
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	return logCfg.Build()
}

// Components is the wired service graph.
type Components struct {
	DB          storage.DB
	Credentials *credential.Store
	Broker      *credential.Broker
	Auth        *oauth.Controller
	YouTube     *youtube.Client
	Dashboard   *dashboard.Service
	Sync        *syncjob.Job

	closers []func() error
}

// Close releases the cache backend and the database, in that order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// Build opens storage and wires every component from the configuration.
func Build(c *config.Config, logger *zap.Logger) (*Components, error) {
	comp := &Components{}
	db, err := OpenDB(c, logger)
	if err != nil {
		return nil, err
	}
	comp.DB = db
	comp.closers = append(comp.closers, db.Close)

	videoStore, metricStore, closeCache, err := openCaches(c, db, logger)
	if err != nil {
		_ = comp.Close()
		return nil, err
	}
	if closeCache != nil {
		comp.closers = append(comp.closers, closeCache)
	}

	sealer, err := secret.FromConfig(c.EncryptionKey, logger)
	if err != nil {
		_ = comp.Close()
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	states, err := oauth.StateSignerFromConfig(c.StateSecret, logger)
	if err != nil {
		_ = comp.Close()
		return nil, fmt.Errorf("state signer: %w", err)
	}

	httpClient := &http.Client{Timeout: c.HTTPTimeout}
	endpoint := oauth.NewEndpoint(c.GoogleClientID, c.GoogleClientSecret, httpClient)
	if !endpoint.Configured() {
		logger.Warn("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET is not set: channel authorization and analytics refresh are unavailable")
	}

	comp.Credentials = credential.NewStore(db, sealer, logger)
	comp.Broker = credential.NewBroker(comp.Credentials, endpoint, logger)
	comp.YouTube = youtube.New(httpClient, c.APIKey, logger)
	comp.Auth = oauth.NewController(endpoint, states, comp.YouTube, comp.Credentials, logger)

	videos := cache.New[model.Video](cache.Videos, videoStore, 0, logger)
	metrics := cache.New[model.DailyMetric](cache.DailyMetrics, metricStore, c.DailyMetricsMaxAge, logger)
	comp.Dashboard = dashboard.NewService(videos, metrics, comp.YouTube, comp.Broker, dashboard.Options{
		DemoChannelID:    c.DemoChannelID,
		MetricsStartDate: c.MetricsStartDate,
	}, logger)
	comp.Sync = syncjob.New(comp.Credentials, comp.Dashboard, c.SyncWindowDays, logger)
	return comp, nil
}

// OpenDB opens the configured database adapter. Postgres schemas are
// migrated before the adapter connects; sqlite creates its own tables.
func OpenDB(c *config.Config, logger *zap.Logger) (storage.DB, error) {
	var db storage.DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := storage.NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		db = s
	case "postgres":
		logger.Info("applying database migrations", zap.String("dir", c.MigrationsDir))
		if err := storage.ApplyMigrations(c.MigrationsDir, c.PostgresDSN, logger); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := storage.NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		db = p
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		db = storage.NewMemoryDB()
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
	logger.Info("database ready", zap.String("adapter", c.DBAdapter))
	return db, nil
}

func openCaches(c *config.Config, db storage.DB, logger *zap.Logger) (cache.Store[model.Video], cache.Store[model.DailyMetric], func() error, error) {
	switch c.CacheBackend {
	case "db":
		return storage.VideoStore{DB: db}, storage.DailyMetricStore{DB: db}, nil, nil
	case "file":
		logger.Info("using file cache", zap.String("dir", c.CacheDir))
		return storage.NewFileCache[model.Video](c.CacheDir, string(cache.Videos), nil),
			storage.NewFileCache[model.DailyMetric](c.CacheDir, string(cache.DailyMetrics), storage.MergeDailyMetrics),
			nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("redis ping %s: %w", c.RedisAddr, err)
		}
		logger.Info("using redis cache", zap.String("addr", c.RedisAddr))
		return storage.NewRedisCache[model.Video](client, string(cache.Videos), nil),
			storage.NewRedisCache[model.DailyMetric](client, string(cache.DailyMetrics), storage.MergeDailyMetrics),
			client.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported CACHE_BACKEND: %s (supported: db, file, redis)", c.CacheBackend)
}
