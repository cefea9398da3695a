package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/api"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/backup"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/config"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/maintenance"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/version"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/watcher"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, filesystem watcher and schedulers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, appOptions{exclusive: true})
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	logger.Info("starting wardarr",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	if err := os.MkdirAll(cfg.Artifacts.Dir, 0o750); err != nil {
		return fmt.Errorf("creating artifacts dir: %w", err)
	}

	maintenanceService := maintenance.NewService(a.db, cfg.Database.Path, cfg.Database.OptimizeIntervalHours, logger)
	go maintenanceService.StartScheduler(ctx)

	backups := backup.NewService(a.db, cfg.Database.BackupDir, cfg.Database.BackupKeep, logger)
	go backups.StartScheduler(ctx, time.Duration(cfg.Database.BackupIntervalHours)*time.Hour)

	if cfg.Watcher.Enabled {
		startWatcher(ctx, a)
	}

	router := api.NewRouter(ctx, api.RouterDeps{
		Scanner:        a.scanner,
		Libraries:      a.libraries,
		Results:        a.results,
		LogManager:     a.logs,
		LogSettings:    a.settings,
		Maintenance:    maintenanceService,
		Backups:        backups,
		Logger:         logger,
		BasePath:       cfg.Server.BasePath,
		ArtifactDir:    cfg.Artifacts.Dir,
		ArtifactPrefix: cfg.Artifacts.PublicPrefix,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	// A running scan finishes the file in flight before it stops.
	if err := a.scanner.Stop(); err == nil {
		logger.Info("waiting for running scan to stop")
		if !a.waitScan(30 * time.Second) {
			logger.Warn("scan did not stop in time, killing matcher")
			a.scanner.Close()
			a.waitScan(5 * time.Second)
		}
	}
	return nil
}

func startWatcher(ctx context.Context, a *app) {
	probeCache := watcher.NewProbeCache()
	libs, err := a.libraries.ListEnabled(ctx)
	if err != nil {
		a.logger.Error("listing libraries for probe", "error", err)
	} else {
		n := probeCache.ProbeAll(ctx, libs, a.logger)
		a.logger.Info("filesystem events available", "libraries", n, "of", len(libs))
	}

	scanFn := func(ctx context.Context) error {
		_, err := a.scanner.Start(ctx)
		return err
	}
	w := watcher.NewService(scanFn, a.libraries, a.discoverer.IsVideo, a.logger, probeCache)
	w.SetDebounce(time.Duration(a.cfg.Watcher.DebounceSeconds) * time.Second)
	go func() {
		if err := w.Start(ctx); err != nil {
			a.logger.Error("filesystem watcher failed", "error", err)
		}
	}()
}
