// Package backup takes point-in-time snapshots of the wardarr database.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// snapshotPattern matches wardarr-YYYYMMDD-HHMMSS-mmm.db.
var snapshotPattern = regexp.MustCompile(`^wardarr-\d{8}-\d{6}-\d{3}\.db$`)

const stampLayout = "20060102-150405"

// ErrInvalidName is returned for names that are not snapshot files.
var ErrInvalidName = errors.New("invalid snapshot name")

// Snapshot describes one backup file.
type Snapshot struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// Service writes and prunes database snapshots in one directory.
type Service struct {
	db     *sql.DB
	dir    string
	keep   int
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a backup service. keep <= 0 disables pruning.
func NewService(db *sql.DB, dir string, keep int, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		keep:   keep,
		logger: logger.With(slog.String("component", "backup")),
		now:    time.Now,
	}
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.dir }

// Create writes a consistent copy of the database with VACUUM INTO. The
// copy lands under a temporary name and is renamed once complete, so a
// listed snapshot is never partial.
func (s *Service) Create(ctx context.Context) (*Snapshot, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.now().UTC()
	name := fmt.Sprintf("wardarr-%s-%03d.db", now.Format(stampLayout), now.Nanosecond()/int(time.Millisecond))
	dest := filepath.Join(s.dir, name)
	tmp := dest + ".partial"
	_ = os.Remove(tmp)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("publishing snapshot: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	snap := newSnapshot(name, info.Size(), now)
	s.logger.Info("snapshot written", "name", name, "size", snap.SizeHuman)
	return snap, nil
}

// List returns snapshots newest first. A missing directory is not an error.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !snapshotPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, *newSnapshot(entry.Name(), info.Size(), stampOf(entry.Name(), info.ModTime())))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes one snapshot by name.
func (s *Service) Delete(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil { //nolint:gosec // name validated above
		return fmt.Errorf("removing snapshot: %w", err)
	}
	s.logger.Info("snapshot deleted", "name", name)
	return nil
}

// Prune deletes all but the newest keep snapshots and reports how many
// were removed.
func (s *Service) Prune() (int, error) {
	if s.keep <= 0 {
		return 0, nil
	}
	snaps, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(snaps) <= s.keep {
		return 0, nil
	}

	removed := 0
	for _, snap := range snaps[s.keep:] {
		if err := os.Remove(filepath.Join(s.dir, snap.Name)); err != nil {
			s.logger.Warn("removing old snapshot", "name", snap.Name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned snapshots", "removed", removed, "kept", s.keep)
	}
	return removed, nil
}

// CreateAndPrune takes a snapshot and then enforces retention.
func (s *Service) CreateAndPrune(ctx context.Context) (*Snapshot, error) {
	snap, err := s.Create(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Prune(); err != nil {
		s.logger.Warn("pruning snapshots", "error", err)
	}
	return snap, nil
}

// StartScheduler takes a snapshot every interval until ctx is canceled.
// A non-positive interval returns immediately.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info("backup scheduler started", "interval", interval.String(), "keep", s.keep)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.CreateAndPrune(ctx); err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
			}
		}
	}
}

// ValidName reports whether name is a bare snapshot file name.
func ValidName(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return snapshotPattern.MatchString(name)
}

func newSnapshot(name string, size int64, created time.Time) *Snapshot {
	return &Snapshot{
		Name:      name,
		Size:      size,
		SizeHuman: humanize.IBytes(uint64(size)), //nolint:gosec // file sizes are non-negative
		CreatedAt: created,
	}
}

// stampOf parses the timestamp embedded in a snapshot name, falling back
// to the file's mtime.
func stampOf(name string, fallback time.Time) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "wardarr-"), ".db")
	i := strings.LastIndex(stamp, "-")
	if i < 0 {
		return fallback
	}
	ts, err := time.Parse(stampLayout, stamp[:i])
	if err != nil {
		return fallback
	}
	milli, err := strconv.Atoi(stamp[i+1:])
	if err != nil {
		return fallback
	}
	return ts.Add(time.Duration(milli) * time.Millisecond)
}
