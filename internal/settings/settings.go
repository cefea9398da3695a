// Package settings is a key-value store for runtime-tunable options that
// outlive a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/logging"
)

// Logging keys.
const (
	keyLogLevel          = "logging.level"
	keyLogFormat         = "logging.format"
	keyLogFilePath       = "logging.file_path"
	keyLogFileMaxSizeMB  = "logging.file_max_size_mb"
	keyLogFileMaxFiles   = "logging.file_max_files"
	keyLogFileMaxAgeDays = "logging.file_max_age_days"
)

// Store reads and writes the settings table.
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetMany writes every pair in one transaction.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	for k, v := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now)
		if err != nil {
			return fmt.Errorf("writing setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// SaveLogging persists a logging configuration.
func (s *Store) SaveLogging(ctx context.Context, cfg logging.Config) error {
	return s.SetMany(ctx, map[string]string{
		keyLogLevel:          cfg.Level,
		keyLogFormat:         cfg.Format,
		keyLogFilePath:       cfg.FilePath,
		keyLogFileMaxSizeMB:  strconv.Itoa(cfg.FileMaxSizeMB),
		keyLogFileMaxFiles:   strconv.Itoa(cfg.FileMaxFiles),
		keyLogFileMaxAgeDays: strconv.Itoa(cfg.FileMaxAgeDays),
	})
}

// LoadLogging overlays persisted logging settings onto base. Keys that
// were never saved keep the base value.
func (s *Store) LoadLogging(ctx context.Context, base logging.Config) (logging.Config, error) {
	cfg := base
	strs := map[string]*string{
		keyLogLevel:    &cfg.Level,
		keyLogFormat:   &cfg.Format,
		keyLogFilePath: &cfg.FilePath,
	}
	for k, dst := range strs {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return base, err
		}
		if ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		keyLogFileMaxSizeMB:  &cfg.FileMaxSizeMB,
		keyLogFileMaxFiles:   &cfg.FileMaxFiles,
		keyLogFileMaxAgeDays: &cfg.FileMaxAgeDays,
	}
	for k, dst := range ints {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return base, err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		*dst = n
	}
	return cfg, nil
}
