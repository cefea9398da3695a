package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const recordColumns = `id, library_id, file_path, file_modified_time, last_scanned_time,
	verification_image_path, match_score, is_verified, episode_info`

// Store provides access to the scan_results table.
type Store struct {
	db *sql.DB
}

// NewStore creates a result store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// values returns the sanitized column values in insert order, file_path last.
func (r *Record) values() []any {
	return []any{
		SanitizeValue(r.LibraryID),
		SanitizeValue(r.FileModifiedTime),
		SanitizeValue(r.LastScannedTime),
		SanitizeValue(r.VerificationImagePath),
		SanitizeValue(r.MatchScore),
		SanitizeValue(r.IsVerified),
		SanitizeValue(r.EpisodeInfo),
		SanitizeValue(r.FilePath),
	}
}

// GetByPath returns the record for a file, or nil, nil when there is none.
func (s *Store) GetByPath(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scan_results WHERE file_path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting result by path: %w", err)
	}
	return rec, nil
}

// Insert adds a new record and sets its ID.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_results (library_id, file_modified_time, last_scanned_time,
			verification_image_path, match_score, is_verified, episode_info, file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.values()...)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// Update rewrites the record stored for r.FilePath.
func (s *Store) Update(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_results SET library_id = ?, file_modified_time = ?, last_scanned_time = ?,
			verification_image_path = ?, match_score = ?, is_verified = ?, episode_info = ?
		WHERE file_path = ?
	`, r.values()...)
	if err != nil {
		return fmt.Errorf("updating result: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.FilePath)
	}
	return nil
}

// Upsert inserts r or updates the existing record for the same file path in
// a single statement.
func (s *Store) Upsert(ctx context.Context, r *Record) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO scan_results (library_id, file_modified_time, last_scanned_time,
			verification_image_path, match_score, is_verified, episode_info, file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			library_id = excluded.library_id,
			file_modified_time = excluded.file_modified_time,
			last_scanned_time = excluded.last_scanned_time,
			verification_image_path = excluded.verification_image_path,
			match_score = excluded.match_score,
			is_verified = excluded.is_verified,
			episode_info = excluded.episode_info
		RETURNING id
	`, r.values()...)
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("upserting result: %w", err)
	}
	return nil
}

// Latest returns the most recently scanned record, or nil, nil when the
// table is empty.
func (s *Store) Latest(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scan_results ORDER BY last_scanned_time DESC, id DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest result: %w", err)
	}
	return rec, nil
}

// List returns records newest first. A limit of zero or less returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT ` + recordColumns + ` FROM scan_results ORDER BY last_scanned_time DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	recs := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Counts summarizes the table.
type Counts struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// Count returns the number of records, verified records and error-labeled records.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(is_verified), 0),
			COALESCE(SUM(CASE WHEN episode_info LIKE 'Error: %' THEN 1 ELSE 0 END), 0)
		FROM scan_results
	`).Scan(&c.Total, &c.Verified, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("counting results: %w", err)
	}
	return c, nil
}

// DeleteAll removes every record and returns how many were deleted.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_results`)
	if err != nil {
		return 0, fmt.Errorf("deleting results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes one record by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var libraryID, image, episode sql.NullString
	var score sql.NullFloat64
	var verified int

	err := row.Scan(
		&r.ID, &libraryID, &r.FilePath, &r.FileModifiedTime, &r.LastScannedTime,
		&image, &score, &verified, &episode,
	)
	if err != nil {
		return nil, err
	}

	r.LibraryID = libraryID.String
	r.MatchScore = score.Float64
	r.IsVerified = verified != 0
	if image.Valid {
		r.VerificationImagePath = &image.String
	}
	if episode.Valid {
		r.EpisodeInfo = &episode.String
	}
	return &r, nil
}
