// Command sync refreshes the trailing daily metrics window of every
// authorized channel once and exits. Run it from cron.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ytdash/internal/app"
	"github.com/example/ytdash/internal/config"
	"go.uber.org/zap"
)

func main() {
	timeout := flag.Duration("timeout", 15*time.Minute, "Upper bound for the whole run")
	failOnError := flag.Bool("strict", false, "Exit non-zero when any channel failed")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logger.Sync()

	comp, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer comp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	report, err := comp.Sync.RunOnce(ctx)
	if err != nil {
		logger.Error("sync failed", zap.Error(err))
		comp.Close()
		os.Exit(1)
	}
	_ = json.NewEncoder(os.Stdout).Encode(report)
	if *failOnError && len(report.Failed) > 0 {
		comp.Close()
		os.Exit(2)
	}
}
