// Package maintenance keeps the SQLite store compact and reports its size.
package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/database"
)

const lastOptimizeKey = "db_maintenance.last_optimize_at"

// Status holds database maintenance status information.
type Status struct {
	SchemaVersion    int64  `json:"schema_version"`
	DBFileSize       int64  `json:"db_file_size"`
	DBFileSizeHuman  string `json:"db_file_size_human"`
	WALFileSize      int64  `json:"wal_file_size"`
	WALFileSizeHuman string `json:"wal_file_size_human"`
	PageCount        int64  `json:"page_count"`
	PageSize         int64  `json:"page_size"`
	FreelistCount    int64  `json:"freelist_count"`
	LastOptimizeAt   string `json:"last_optimize_at,omitempty"`
	ScheduleEnabled  bool   `json:"schedule_enabled"`
	ScheduleInterval int    `json:"schedule_interval_hours"`
}

// Service provides database maintenance operations.
type Service struct {
	db            *sql.DB
	dbPath        string
	intervalHours int
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates a maintenance service. A non-positive intervalHours
// disables the scheduler.
func NewService(db *sql.DB, dbPath string, intervalHours int, logger *slog.Logger) *Service {
	return &Service{
		db:            db,
		dbPath:        dbPath,
		intervalHours: intervalHours,
		logger:        logger.With(slog.String("component", "maintenance")),
		now:           time.Now,
	}
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		ScheduleEnabled:  s.intervalHours > 0,
		ScheduleInterval: s.intervalHours,
	}

	v, err := database.SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	st.SchemaVersion = v

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}
	st.DBFileSizeHuman = humanize.IBytes(uint64(st.DBFileSize))   //nolint:gosec // G115: sizes are non-negative
	st.WALFileSizeHuman = humanize.IBytes(uint64(st.WALFileSize)) //nolint:gosec // G115: sizes are non-negative

	for pragma, dst := range map[string]*int64{
		"page_count":     &st.PageCount,
		"page_size":      &st.PageSize,
		"freelist_count": &st.FreelistCount,
	} {
		if err := s.db.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(dst); err != nil {
			s.logger.Warn("reading pragma", "pragma", pragma, "error", err)
		}
	}

	last, err := s.setting(ctx, lastOptimizeKey)
	if err != nil {
		return nil, err
	}
	st.LastOptimizeAt = last

	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint and records
// when it ran.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	if err := s.setSetting(ctx, lastOptimizeKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording optimize timestamp", "error", err)
	}

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// StartScheduler runs Optimize on the configured interval until ctx is
// canceled. It returns at once when scheduling is disabled.
func (s *Service) StartScheduler(ctx context.Context) {
	if s.intervalHours <= 0 {
		s.logger.Info("maintenance scheduler disabled")
		return
	}
	s.runScheduler(ctx, time.Duration(s.intervalHours)*time.Hour)
}

func (s *Service) runScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}

// setting reads a value from the key-value table. A missing key yields "".
func (s *Service) setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, nil
}

func (s *Service) setSetting(ctx context.Context, key, value string) error {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}
