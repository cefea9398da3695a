package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const libraryColumns = `id, name, path, type, enabled, created_at, updated_at`

// Service is the library registry backed by the libraries table.
type Service struct {
	db *sql.DB
}

// NewService creates a library service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func normalize(lib *Library) error {
	lib.Path = strings.TrimSpace(lib.Path)
	if lib.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalid)
	}
	lib.Path = filepath.Clean(lib.Path)
	if lib.Name == "" {
		lib.Name = filepath.Base(lib.Path)
	}
	if lib.Type == "" {
		lib.Type = TypeMovie
	}
	if !ValidType(lib.Type) {
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalid, TypeMovie, TypeTV)
	}
	return nil
}

// Create inserts a new library, assigning an id when none is set.
func (s *Service) Create(ctx context.Context, lib *Library) error {
	if err := normalize(lib); err != nil {
		return err
	}
	if existing, err := s.GetByPath(ctx, lib.Path); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, lib.Path)
	}
	if lib.ID == "" {
		lib.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lib.CreatedAt = now
	lib.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, name, path, type, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		lib.ID, lib.Name, lib.Path, lib.Type, boolToInt(lib.Enabled),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	return nil
}

// GetByID retrieves a library by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*Library, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	lib, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting library by id: %w", err)
	}
	return lib, nil
}

// GetByPath retrieves a library by root path.
// Returns nil, nil when no library matches the path.
func (s *Service) GetByPath(ctx context.Context, path string) (*Library, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE path = ?`, filepath.Clean(path))
	lib, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting library by path: %w", err)
	}
	return lib, nil
}

// List returns all libraries ordered by name.
func (s *Service) List(ctx context.Context) ([]Library, error) {
	return s.query(ctx, `SELECT `+libraryColumns+` FROM libraries ORDER BY name`)
}

// ListEnabled returns only the libraries a scan should walk.
func (s *Service) ListEnabled(ctx context.Context) ([]Library, error) {
	return s.query(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE enabled = 1 ORDER BY name`)
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var libs []Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning library: %w", err)
		}
		libs = append(libs, *lib)
	}
	return libs, rows.Err()
}

// Update modifies an existing library.
func (s *Service) Update(ctx context.Context, lib *Library) error {
	if err := normalize(lib); err != nil {
		return err
	}
	if existing, err := s.GetByPath(ctx, lib.Path); err != nil {
		return err
	} else if existing != nil && existing.ID != lib.ID {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, lib.Path)
	}
	lib.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE libraries SET name = ?, path = ?, type = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`,
		lib.Name, lib.Path, lib.Type, boolToInt(lib.Enabled),
		lib.UpdatedAt.Format(time.RFC3339),
		lib.ID,
	)
	if err != nil {
		return fmt.Errorf("updating library: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, lib.ID)
	}
	return nil
}

// Delete removes a library. Verification records that reference it are
// kept; they are keyed by file path, not by library.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting library: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// scanLibrary scans a database row into a Library struct.
func scanLibrary(row interface{ Scan(...any) error }) (*Library, error) {
	var lib Library
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&lib.ID, &lib.Name, &lib.Path, &lib.Type, &enabled,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	lib.Enabled = enabled != 0
	lib.CreatedAt = parseTime(createdAt)
	lib.UpdatedAt = parseTime(updatedAt)

	return &lib, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
