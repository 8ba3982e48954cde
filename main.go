package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ytdash/internal/app"
	cfg "github.com/example/ytdash/internal/config"
	"github.com/example/ytdash/internal/dashboard"
	"github.com/example/ytdash/internal/oauth"
	"github.com/example/ytdash/internal/storage"
	"github.com/example/ytdash/internal/syncjob"
	"go.uber.org/zap"
)

type App struct {
	DB        storage.DB
	Auth      *oauth.Controller
	Dashboard *dashboard.Service
	Sync      *syncjob.Job
	Logger    *zap.Logger

	APIBaseURL      string
	FrontendURL     string
	OperatorKeyHash string

	rateLimiter *RateLimiter
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := app.NewLogger(c.LogLevel, c.IsProduction())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	comp, err := app.Build(c, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	a := &App{
		DB:              comp.DB,
		Auth:            comp.Auth,
		Dashboard:       comp.Dashboard,
		Sync:            comp.Sync,
		Logger:          logger,
		APIBaseURL:      c.APIBaseURL,
		FrontendURL:     c.FrontendURL,
		OperatorKeyHash: c.OperatorKeyHash,
		rateLimiter:     NewRateLimiter(c.RefreshRatePerMinute),
	}
	if a.OperatorKeyHash == "" {
		logger.Info("OPERATOR_KEY_HASH is not set: POST /api/sync is disabled")
	}

	// Provider fetches run inside the request.
	srv := &http.Server{
		Handler:      a.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2*c.HTTPTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", c.Port), zap.String("db", c.DBAdapter), zap.String("cache", c.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	if err := comp.Close(); err != nil {
		logger.Warn("closing storage", zap.Error(err))
	}
	logger.Info("server exited properly")
}
