// Package reconcile decides whether a file needs verification and turns a
// matcher outcome into a stored record.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/discovery"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/matcher"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
)

// Results is the subset of the result store the reconciler needs.
type Results interface {
	GetByPath(ctx context.Context, path string) (*result.Record, error)
	Upsert(ctx context.Context, r *result.Record) error
}

// Publisher copies evidence images; "" means the copy failed.
type Publisher interface {
	Publish(src, ref string) string
}

// Decision says whether a candidate must be (re)verified.
type Decision struct {
	Process  bool
	ModTime  int64          // current mtime, Unix milliseconds
	Existing *result.Record // nil when the file has never been scanned
}

// Reconciler compares files against stored records.
type Reconciler struct {
	results   Results
	artifacts Publisher
	now       func() time.Time
}

// New creates a Reconciler.
func New(results Results, artifacts Publisher) *Reconciler {
	return &Reconciler{results: results, artifacts: artifacts, now: time.Now}
}

// Decide stats the candidate and looks up its record. The file is skipped
// only when a record exists with exactly the same modification time, so a
// file whose mtime moved backwards is verified again.
func (r *Reconciler) Decide(ctx context.Context, cand discovery.Candidate) (Decision, error) {
	info, err := os.Stat(cand.Path)
	if err != nil {
		return Decision{}, fmt.Errorf("stat: %w", err)
	}
	mtime := info.ModTime().UnixMilli()

	existing, err := r.results.GetByPath(ctx, cand.Path)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Process:  existing == nil || existing.FileModifiedTime != mtime,
		ModTime:  mtime,
		Existing: existing,
	}, nil
}

// Persist builds the new record for cand from out and upserts it.
func (r *Reconciler) Persist(ctx context.Context, cand discovery.Candidate, d Decision, out matcher.Outcome) (*result.Record, error) {
	rec := &result.Record{
		LibraryID:             cand.LibraryID,
		FilePath:              cand.Path,
		FileModifiedTime:      d.ModTime,
		LastScannedTime:       r.now().UnixMilli(),
		VerificationImagePath: r.mergeImage(cand, d.Existing, out),
		MatchScore:            out.MatchScore,
		IsVerified:            out.Verified,
		EpisodeInfo:           label(out),
	}
	if err := r.results.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// mergeImage applies the evidence rule: a new image replaces the old one
// only when this run succeeded and announced evidence. A successful run
// whose copy failed stores nil. Any other run keeps the previous image.
func (r *Reconciler) mergeImage(cand discovery.Candidate, existing *result.Record, out matcher.Outcome) *string {
	if out.Success && out.VerificationPath != "" {
		if p := r.artifacts.Publish(out.VerificationPath, cand.Path); p != "" {
			return &p
		}
		return nil
	}
	if existing != nil {
		return existing.VerificationImagePath
	}
	return nil
}

func label(out matcher.Outcome) *string {
	if !out.Success {
		s := result.ErrorLabelPrefix + out.Error
		return &s
	}
	if out.Episode == "" {
		return nil
	}
	s := out.Episode
	return &s
}
