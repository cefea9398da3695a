package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/artifact"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/config"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/database"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/discovery"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/event"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/instance"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/logging"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/matcher"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/reconcile"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/settings"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/webhook"
)

// app is the set of long-lived services a command works with.
type app struct {
	cfg    *config.Config
	logs   *logging.Manager
	logger *slog.Logger
	db     *sql.DB
	lock   *instance.Lock

	libraries  *library.Service
	results    *result.Store
	settings   *settings.Store
	discoverer *discovery.Discoverer
	matcher    *matcher.Invoker
	artifacts  *artifact.Store
	bus        *event.Bus
	webhooks   *webhook.Dispatcher
	scanner    *scanner.Service
}

type appOptions struct {
	// exclusive takes the per-database instance lock.
	exclusive bool
	// logOut receives console logs. Defaults to stdout.
	logOut *os.File
}

// newLogging builds the log manager from config, choosing the console
// format by whether out is a terminal.
func newLogging(cfg *config.Config, out *os.File) (*logging.Manager, *slog.Logger) {
	lc := logging.Config{
		Level:          cfg.Logging.Level,
		Format:         logging.TerminalFormat(cfg.Logging.Format, out),
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	}
	return logging.NewManagerTo(lc, out)
}

func newMatcher(cfg *config.Config, logger *slog.Logger) *matcher.Invoker {
	return matcher.New(matcher.Config{
		Interpreter: cfg.Matcher.Interpreter,
		ScriptPath:  cfg.Matcher.ScriptPath,
		WorkDir:     cfg.Matcher.WorkDir,
		Threshold:   cfg.Matcher.Threshold,
		MaxStills:   cfg.Matcher.MaxStills,
		Strict:      cfg.Matcher.Strict,
		ForceCPU:    cfg.Matcher.ForceCPU,
	}, logger)
}

func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	out := opts.logOut
	if out == nil {
		out = os.Stdout
	}
	a := &app{cfg: cfg}
	a.logs, a.logger = newLogging(cfg, out)
	slog.SetDefault(a.logger)

	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if opts.exclusive {
		if a.lock, err = instance.Acquire(cfg.Database.Path); err != nil {
			return nil, err
		}
	}

	a.db, err = database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err = database.Migrate(a.db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	a.logger.Debug("database ready", slog.String("path", cfg.Database.Path))

	a.settings = settings.NewStore(a.db)
	a.applySavedLogging(ctx)

	a.libraries = library.NewService(a.db)
	a.results = result.NewStore(a.db)
	if err = seedLibraries(ctx, a.libraries, cfg.Libraries, a.logger); err != nil {
		return nil, err
	}

	a.discoverer = discovery.New(a.logger, cfg.Scanner.Extensions)
	a.matcher = newMatcher(cfg, a.logger)
	a.artifacts = artifact.New(artifact.Config{
		Dir:          cfg.Artifacts.Dir,
		PublicPrefix: cfg.Artifacts.PublicPrefix,
		MaxWidth:     cfg.Artifacts.MaxWidth,
	}, a.logger)

	a.bus = event.NewBus(a.logger, 256)
	go a.bus.Start()

	a.webhooks = webhook.NewDispatcher(webhooksFromConfig(cfg.Webhooks), nil, a.logger)
	if a.webhooks.Len() > 0 {
		a.bus.SubscribeAll(a.webhooks.HandleEvent)
	}

	a.scanner = scanner.NewService(scanner.Deps{
		Libraries:  a.libraries,
		Discoverer: a.discoverer,
		Matcher:    a.matcher,
		Reconciler: reconcile.New(a.results, a.artifacts),
		Results:    a.results,
		Events:     a.bus,
		Logger:     a.logger,
	})

	return a, nil
}

// applySavedLogging overlays logging settings changed at runtime on a
// previous run.
func (a *app) applySavedLogging(ctx context.Context) {
	current := a.logs.Config()
	saved, err := a.settings.LoadLogging(ctx, current)
	if err != nil {
		a.logger.Warn("loading saved logging settings", "error", err)
		return
	}
	if saved == current {
		return
	}
	if err := a.logs.Reconfigure(saved); err != nil {
		a.logger.Warn("ignoring saved logging settings", "error", err)
		return
	}
	a.logger.Debug("applied saved logging settings", "config", saved.String())
}

// waitScan blocks until the running scan finishes or timeout elapses.
func (a *app) waitScan(timeout time.Duration) bool {
	select {
	case <-a.scanner.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

func (a *app) close() {
	if a.scanner != nil {
		a.scanner.Close()
	}
	if a.bus != nil {
		a.bus.Stop()
		a.bus.Wait()
	}
	if a.webhooks != nil {
		a.webhooks.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing database", "error", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			a.logger.Warn("releasing instance lock", "error", err)
		}
	}
	if a.logs != nil {
		a.logs.Close() //nolint:errcheck
	}
}

func webhooksFromConfig(in []config.WebhookConfig) []webhook.Webhook {
	out := make([]webhook.Webhook, 0, len(in))
	for _, w := range in {
		out = append(out, webhook.Webhook{Name: w.Name, URL: w.URL, Type: w.Type, Events: w.Events})
	}
	return out
}

// seedLibraries registers configured libraries whose path is not known yet.
// Existing libraries are left alone so API edits survive a restart.
func seedLibraries(ctx context.Context, svc *library.Service, seeds []config.LibrarySeed, logger *slog.Logger) error {
	for _, seed := range seeds {
		existing, err := svc.GetByPath(ctx, seed.Path)
		if err != nil {
			return fmt.Errorf("seeding library %s: %w", seed.Path, err)
		}
		if existing != nil {
			continue
		}
		lib := &library.Library{
			Name:    seed.Name,
			Path:    seed.Path,
			Type:    seed.Type,
			Enabled: seed.Enabled == nil || *seed.Enabled,
		}
		if err := svc.Create(ctx, lib); err != nil {
			return fmt.Errorf("seeding library %s: %w", seed.Path, err)
		}
		logger.Info("library seeded from config", "id", lib.ID, "path", lib.Path, "type", lib.Type)
	}
	return nil
}

