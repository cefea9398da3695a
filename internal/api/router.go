package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/api/middleware"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/backup"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/logging"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/maintenance"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
)

// ScanController is the scan orchestrator as seen by HTTP clients.
type ScanController interface {
	Start(ctx context.Context) (scanner.State, error)
	Stop() error
	Status(ctx context.Context) scanner.State
}

// LibraryStore is the library registry.
type LibraryStore interface {
	Create(ctx context.Context, lib *library.Library) error
	GetByID(ctx context.Context, id string) (*library.Library, error)
	List(ctx context.Context) ([]library.Library, error)
	Update(ctx context.Context, lib *library.Library) error
	Delete(ctx context.Context, id string) error
}

// ResultStore holds verification records.
type ResultStore interface {
	List(ctx context.Context, limit int) ([]result.Record, error)
	Count(ctx context.Context) (result.Counts, error)
	DeleteAll(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
}

// LogManager exposes runtime logging configuration.
type LogManager interface {
	Config() logging.Config
	Reconfigure(cfg logging.Config) error
}

// LogSettings persists logging configuration.
type LogSettings interface {
	SaveLogging(ctx context.Context, cfg logging.Config) error
}

// Maintenance runs database housekeeping.
type Maintenance interface {
	Status(ctx context.Context) (*maintenance.Status, error)
	Optimize(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// Backups manages database snapshots.
type Backups interface {
	CreateAndPrune(ctx context.Context) (*backup.Snapshot, error)
	List() ([]backup.Snapshot, error)
	Delete(name string) error
}

// RouterDeps bundles all dependencies needed by the HTTP router. Optional
// services may be nil; their routes then answer 503.
type RouterDeps struct {
	Scanner     ScanController
	Libraries   LibraryStore
	Results     ResultStore
	LogManager  LogManager
	LogSettings LogSettings
	Maintenance Maintenance
	Backups     Backups
	Logger      *slog.Logger
	BasePath    string

	// ArtifactDir is served read-only under ArtifactPrefix.
	ArtifactDir    string
	ArtifactPrefix string

	// ScanRateEvery and ScanRateBurst limit scan control per client IP.
	// Zero values use one request per second with a burst of 5.
	ScanRateEvery time.Duration
	ScanRateBurst int
}

// Router sets up all HTTP routes for the application.
type Router struct {
	scanner     ScanController
	libraries   LibraryStore
	results     ResultStore
	logManager  LogManager
	logSettings LogSettings
	maintenance Maintenance
	backups     Backups
	logger      *slog.Logger
	basePath    string
	artifacts   *artifactFiles
	scanLimiter *middleware.RateLimiter
}

// NewRouter creates a new Router. ctx bounds background housekeeping such
// as rate-limiter cleanup.
func NewRouter(ctx context.Context, deps RouterDeps) *Router {
	every, burst := deps.ScanRateEvery, deps.ScanRateBurst
	if every <= 0 {
		every = time.Second
	}
	if burst <= 0 {
		burst = 5
	}
	r := &Router{
		scanner:     deps.Scanner,
		libraries:   deps.Libraries,
		results:     deps.Results,
		logManager:  deps.LogManager,
		logSettings: deps.LogSettings,
		maintenance: deps.Maintenance,
		backups:     deps.Backups,
		logger:      deps.Logger.With("component", "api"),
		basePath:    deps.BasePath,
		scanLimiter: middleware.NewRateLimiter(ctx, every, burst),
	}
	if deps.ArtifactDir != "" && deps.ArtifactPrefix != "" {
		r.artifacts = newArtifactFiles(deps.ArtifactDir, deps.BasePath+deps.ArtifactPrefix)
	}
	return r
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath
	limited := func(fn http.HandlerFunc) http.Handler { return r.scanLimiter.Middleware(fn) }

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Scan control
	mux.Handle("POST "+bp+"/api/v1/scan/start", limited(r.handleScanStart))
	mux.Handle("POST "+bp+"/api/v1/scan/stop", limited(r.handleScanStop))
	mux.Handle("GET "+bp+"/api/v1/scan/status", middleware.NoCache(http.HandlerFunc(r.handleScanStatus)))

	// Results
	mux.HandleFunc("GET "+bp+"/api/v1/results", r.handleListResults)
	mux.HandleFunc("GET "+bp+"/api/v1/results/summary", r.handleResultSummary)
	mux.HandleFunc("DELETE "+bp+"/api/v1/results", r.handleDeleteResults)
	mux.HandleFunc("DELETE "+bp+"/api/v1/results/{id}", r.handleDeleteResult)

	// Libraries
	mux.HandleFunc("GET "+bp+"/api/v1/libraries", r.handleListLibraries)
	mux.HandleFunc("POST "+bp+"/api/v1/libraries", r.handleCreateLibrary)
	mux.HandleFunc("GET "+bp+"/api/v1/libraries/{id}", r.handleGetLibrary)
	mux.HandleFunc("PUT "+bp+"/api/v1/libraries/{id}", r.handleUpdateLibrary)
	mux.HandleFunc("DELETE "+bp+"/api/v1/libraries/{id}", r.handleDeleteLibrary)

	// Settings
	mux.HandleFunc("GET "+bp+"/api/v1/settings/logging", r.handleGetLogging)
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/logging", r.handleUpdateLogging)

	// Maintenance
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/status", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/optimize", r.handleMaintenanceOptimize)
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/vacuum", r.handleMaintenanceVacuum)
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/backups", r.handleListBackups)
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/backups", r.handleCreateBackup)
	mux.HandleFunc("DELETE "+bp+"/api/v1/maintenance/backups/{name}", r.handleDeleteBackup)

	if r.artifacts != nil {
		mux.Handle("GET "+r.artifacts.prefix+"/", r.artifacts.Handler())
	}

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}
