package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tracekit/pagetransit/internal/correlator"
	"github.com/tracekit/pagetransit/internal/database"
	"github.com/tracekit/pagetransit/internal/models"
	"github.com/tracekit/pagetransit/internal/pageside"
	"github.com/tracekit/pagetransit/internal/server"
)

type config struct {
	Address      string `env:"PAGETRANSIT_ADDRESS" envDefault:"127.0.0.1:8123"`
	DatabasePath string `env:"PAGETRANSIT_DB"`
	LogLevel     string `env:"PAGETRANSIT_LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal("Failed to parse environment:", err)
	}

	zapConfig := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	databasePath := cfg.DatabasePath
	if databasePath == "" {
		databasePath, err = defaultDatabasePath()
		if err != nil {
			logger.Fatal("failed to resolve database path", zap.Error(err))
		}
	}

	db, err := database.NewDatabase(databasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	registry := pageside.NewRegistry()
	reconciler := correlator.New(logger.Named("correlator"), registry, correlator.DefaultConfig())
	loop := correlator.NewLoop(logger.Named("loop"), reconciler, registry, 256)
	srv := server.NewServer(logger.Named("server"), db, loop, cfg.Address)

	transitions, unsubscribe := reconciler.Subscribe(nil, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return loop.Run(groupCtx) })
	group.Go(func() error { return srv.Start(groupCtx) })
	group.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case rec, ok := <-transitions:
				if !ok {
					return nil
				}
				if err := db.InsertTransitions([]models.TransitionRecord{rec}); err != nil {
					logger.Warn("failed to store transition", zap.Error(err))
				}
			case <-groupCtx.Done():
				return nil
			}
		}
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("agent failed", zap.Error(err))
	}
}

// defaultDatabasePath picks the platform-specific app data location.
func defaultDatabasePath() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	var applicationDirectory string
	switch runtime.GOOS {
	case "darwin":
		applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "PageTransit")
	case "windows":
		applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "PageTransit")
	default: // linux and others
		applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "PageTransit")
	}
	if err := os.MkdirAll(applicationDirectory, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(applicationDirectory, "transitions.db"), nil
}
