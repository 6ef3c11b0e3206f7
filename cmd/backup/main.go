package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storeops/tenant-backup/internal/backup"
	"github.com/storeops/tenant-backup/internal/config"
	"github.com/storeops/tenant-backup/internal/metrics"
	"github.com/storeops/tenant-backup/internal/server"
	"github.com/storeops/tenant-backup/internal/source"
	"github.com/storeops/tenant-backup/internal/storage"
)

const version = "2.0.0"

func main() {
	configPath := flag.String("config", "", "path to the settings document")
	force := flag.Bool("force", false, "run even inside the minimum run interval window")
	flag.Parse()

	// A .env next to the binary is a convenience for local runs; absence
	// is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		if errors.Is(err, config.ErrCreatedDefault) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *force {
		cfg.ForceBackup = true
	}

	logger := newLogger(cfg.LogPath)
	slog.SetDefault(logger)
	metrics.Info.WithLabelValues(version, cfg.StorageProvider).Set(1)
	logger.Info("tenant backup service starting",
		"version", version,
		"data_source", cfg.DataSourceURL,
		"storage_provider", cfg.StorageProvider,
		"workers", cfg.Workers,
		"include_fulldb", cfg.IncludeFullDB,
		"include_files", cfg.IncludeFiles,
		"force_backup", cfg.ForceBackup,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg)
	if err != nil {
		logger.Error("could not create remote store", "error", err)
		os.Exit(1)
	}
	src := source.NewClient(cfg.DataSourceURL, cfg.AdminEmail, cfg.AdminPassword, logger)

	var httpServer *server.Server
	var wg sync.WaitGroup
	if cfg.MetricsPort > 0 {
		serverConfig := server.DefaultConfig()
		serverConfig.Port = cfg.MetricsPort
		httpServer = server.New(serverConfig, logger)
		httpServer.RegisterCollaborators(src, store)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	result, err := backup.New(cfg, src, store, logger).Run(ctx)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			logger.Error("HTTP server shutdown failed", "error", serr)
		}
		shutdownCancel()
		wg.Wait()
	}

	if err != nil {
		logger.Error("backup run failed", "error", err)
		os.Exit(1)
	}
	os.Exit(result.ExitCode())
}

// newLogger writes to stdout and, when the log file can be opened, to the
// configured log path as well.
func newLogger(logPath string) *slog.Logger {
	out := io.Writer(os.Stdout)
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
