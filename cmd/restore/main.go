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
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/storeops/tenant-backup/internal/config"
	"github.com/storeops/tenant-backup/internal/restore"
	"github.com/storeops/tenant-backup/internal/source"
	"github.com/storeops/tenant-backup/internal/storage"
	"github.com/storeops/tenant-backup/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to the settings document")
	list := flag.Bool("list", false, "list remote snapshots, newest first")
	latest := flag.Bool("latest", false, "restore the newest archive per tenant plus the global archive")
	tenant := flag.String("tenant", "", "restore one tenant's newest archive (folder, id or name)")
	file := flag.String("file", "", "restore one explicit archive (local path or remote key)")
	fulldb := flag.Bool("fulldb", false, "stage the newest full-database blob for import")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing anything")
	flag.Parse()

	modes := 0
	for _, on := range []bool{*list, *latest, *tenant != "", *file != "", *fulldb} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of -list, -latest, -tenant, -file or -fulldb is required")
		flag.Usage()
		os.Exit(1)
	}

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

	logger := newLogger(cfg.LogPath)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	store, err := storage.NewStore(ctx, cfg)
	if err != nil {
		logger.Error("could not create remote store", "error", err)
		os.Exit(1)
	}
	src := source.NewClient(cfg.DataSourceURL, cfg.AdminEmail, cfg.AdminPassword, logger)
	o := restore.New(src, store, logger)

	if *list {
		os.Exit(runList(ctx, o))
	}

	if !*dryRun {
		if err := src.Authenticate(ctx); err != nil {
			logger.Error("authentication failed", "error", err)
			os.Exit(1)
		}
	}

	var report *restore.Report
	switch {
	case *latest:
		report, err = o.RestoreLatest(ctx, *dryRun)
	case *tenant != "":
		report, err = o.RestoreTenant(ctx, *tenant, *dryRun)
	case *file != "":
		report, err = o.RestoreFile(ctx, *file, *dryRun)
	case *fulldb:
		report, err = o.RestoreFullDB(ctx, *dryRun)
	}
	if err != nil {
		logger.Error("restore failed", "error", err)
		os.Exit(1)
	}

	printReport(report)
	if len(report.Errors) > 0 {
		os.Exit(2)
	}
}

func runList(ctx context.Context, o *restore.Orchestrator) int {
	infos, err := o.ListSnapshots(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list snapshots: %v\n", err)
		return 1
	}
	if len(infos) == 0 {
		fmt.Println("no snapshots in remote store")
		return 0
	}
	for _, info := range infos {
		fmt.Printf("%-8s %-20s %10s  %s\n",
			info.Kind,
			info.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			utils.FormatBytes(info.Size),
			info.Key,
		)
	}
	return 0
}

func printReport(r *restore.Report) {
	mode := "restore"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("%s: %d archives, %d records (%d created, %d updated, %d skipped), %d files\n",
		mode, r.Archives, r.Records, r.Created, r.Updated, r.Skipped, r.Files)
	if len(r.Errors) > 0 {
		fmt.Printf("errors (%d):\n  %s\n", len(r.Errors), strings.Join(r.Errors, "\n  "))
	}
}

func newLogger(logPath string) *slog.Logger {
	out := io.Writer(os.Stderr)
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
