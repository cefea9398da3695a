// Package scanner drives verification scans: one at a time, file by file,
// with cooperative stop.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/discovery"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/event"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/matcher"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/reconcile"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
)

// Libraries lists the library roots to scan.
type Libraries interface {
	ListEnabled(ctx context.Context) ([]library.Library, error)
}

// Discoverer finds candidate files under a root.
type Discoverer interface {
	Discover(ctx context.Context, root, libraryID string) []discovery.Candidate
}

// Matcher verifies one file.
type Matcher interface {
	Match(ctx context.Context, path string) matcher.Outcome
}

// Reconciler decides whether a file needs work and stores the outcome.
type Reconciler interface {
	Decide(ctx context.Context, cand discovery.Candidate) (reconcile.Decision, error)
	Persist(ctx context.Context, cand discovery.Candidate, d reconcile.Decision, out matcher.Outcome) (*result.Record, error)
}

// LatestFinder loads the most recently scanned record.
type LatestFinder interface {
	Latest(ctx context.Context) (*result.Record, error)
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Libraries  Libraries
	Discoverer Discoverer
	Matcher    Matcher
	Reconciler Reconciler
	Results    LatestFinder
	Events     event.Publisher // optional
	Logger     *slog.Logger
}

// Service owns the scan state. All state access goes through mu, which is
// never held while files are walked, the worker runs, or the store is hit.
type Service struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// life bounds every pipeline; Close cancels it, which kills a worker
	// still running.
	life   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	done   chan struct{}
	closed bool
}

// NewService creates an idle scan service.
func NewService(deps Deps) *Service {
	done := make(chan struct{})
	close(done)
	life, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:   deps,
		logger: deps.Logger.With("component", "scanner"),
		now:    time.Now,
		life:   life,
		cancel: cancel,
		state:  State{Errors: []string{}},
		done:   done,
	}
}

// Start begins a scan in the background and returns the initial state.
// When a scan is already running it returns ErrScanInProgress together
// with the current state, which is left untouched. The scan keeps running
// after ctx is canceled; only Close ends it early.
func (s *Service) Start(_ context.Context) (State, error) {
	s.mu.Lock()
	if s.closed {
		snap := s.state.clone()
		s.mu.Unlock()
		return snap, ErrServiceClosed
	}
	if s.state.IsScanning {
		snap := s.state.clone()
		s.mu.Unlock()
		return snap, ErrScanInProgress
	}

	now := s.now().UTC()
	s.state = State{
		ScanID:      uuid.New().String(),
		IsScanning:  true,
		StartTime:   &now,
		Errors:      []string{},
		LatestMatch: s.state.LatestMatch,
	}
	done := make(chan struct{})
	s.done = done
	snap := s.state.clone()
	s.mu.Unlock()

	s.logger.Info("scan started", "scan_id", snap.ScanID)
	s.publish(event.ScanStarted, map[string]any{"scan_id": snap.ScanID})

	go s.run(s.life, snap.ScanID, done)

	return snap, nil
}

// Stop asks the running scan to halt after the file in flight.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsScanning {
		return ErrNoScanRunning
	}
	if s.state.StopRequested {
		return ErrStopAlreadyRequested
	}
	s.state.StopRequested = true
	s.logger.Info("scan stop requested", "scan_id", s.state.ScanID, "current_file", s.state.CurrentFile)
	return nil
}

// Status returns a copy of the current state. When idle with no known
// latest match it is loaded from the result store first.
func (s *Service) Status(ctx context.Context) State {
	s.mu.Lock()
	needLatest := !s.state.IsScanning && s.state.LatestMatch == nil
	s.mu.Unlock()

	if needLatest && s.deps.Results != nil {
		rec, err := s.deps.Results.Latest(ctx)
		if err != nil {
			s.logger.Warn("loading latest result", "error", err)
		}
		if rec != nil {
			s.mu.Lock()
			if s.state.LatestMatch == nil {
				s.state.LatestMatch = latestFromRecord(rec)
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LatestMatch != nil {
		s.state.LatestMatch.Timestamp = s.now().UTC()
	}
	return s.state.clone()
}

// Close rejects further scans and cancels the running one, terminating
// its worker process. It does not wait; use Done for that.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Done returns a channel closed when the current (or last) scan finishes.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Service) run(ctx context.Context, scanID string, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.fail(scanID, fmt.Sprint(r))
		}
	}()

	libs, err := s.deps.Libraries.ListEnabled(ctx)
	if err != nil {
		s.fail(scanID, err.Error())
		return
	}

	var cands []discovery.Candidate
	for _, lib := range libs {
		found := s.deps.Discoverer.Discover(ctx, lib.Path, lib.ID)
		s.logger.Info("library discovered", "library", lib.Name, "path", lib.Path, "files", len(found))
		cands = append(cands, found...)
	}

	s.mu.Lock()
	s.state.TotalFiles = len(cands)
	s.mu.Unlock()

	processed := 0
	stopped := false
	for _, cand := range cands {
		s.mu.Lock()
		if s.state.StopRequested || ctx.Err() != nil {
			s.mu.Unlock()
			stopped = true
			break
		}
		s.state.CurrentFile = cand.Path
		s.mu.Unlock()

		s.processFile(ctx, cand)
		processed++

		s.mu.Lock()
		s.state.ProcessedFiles = processed
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.state.IsScanning = false
	s.state.StopRequested = false
	s.state.CurrentFile = ""
	s.state.ProcessedFiles = processed
	total := s.state.TotalFiles
	errCount := len(s.state.Errors)
	s.mu.Unlock()

	s.logger.Info("scan finished",
		"scan_id", scanID,
		"processed", processed,
		"total", total,
		"errors", errCount,
		"stopped", stopped,
	)
	s.publish(event.ScanCompleted, map[string]any{
		"scan_id":         scanID,
		"total_files":     total,
		"processed_files": processed,
		"errors":          errCount,
		"stopped":         stopped,
	})
}

// processFile handles one candidate. Failures, panics included, are
// recorded in the error list and never end the scan.
func (s *Service) processFile(ctx context.Context, cand discovery.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			s.recordError(cand.Path, fmt.Sprint(r))
		}
	}()

	decision, err := s.deps.Reconciler.Decide(ctx, cand)
	if err != nil {
		s.recordError(cand.Path, err.Error())
		return
	}
	if !decision.Process {
		s.logger.Debug("unchanged since last scan, skipping", "file", cand.Path)
		return
	}

	out := s.deps.Matcher.Match(ctx, cand.Path)
	if ctx.Err() != nil {
		// The service is closing; a killed run says nothing about the file.
		s.logger.Warn("matcher interrupted by shutdown", "file", cand.Path)
		return
	}

	rec, err := s.deps.Reconciler.Persist(ctx, cand, decision, out)
	if err != nil {
		s.recordError(cand.Path, err.Error())
		return
	}

	data := map[string]any{
		"file_path":   cand.Path,
		"library_id":  cand.LibraryID,
		"match_score": out.MatchScore,
	}
	switch {
	case out.Success:
		s.mu.Lock()
		s.state.LatestMatch = latestFromRecord(rec)
		s.mu.Unlock()
		if out.Verified {
			data["episode"] = out.Episode
			s.publish(event.FileVerified, data)
		}
	default:
		data["error"] = out.Error
		s.publish(event.FileFailed, data)
	}
}

func (s *Service) recordError(path, msg string) {
	line := fmt.Sprintf("Error processing %s: %s", path, msg)
	s.logger.Warn("file processing failed", "file", path, "error", msg)
	s.mu.Lock()
	s.state.Errors = append(s.state.Errors, line)
	s.mu.Unlock()
}

// fail aborts the whole scan and returns to idle.
func (s *Service) fail(scanID, msg string) {
	s.logger.Error("scan failed", "scan_id", scanID, "error", msg)
	s.mu.Lock()
	s.state.IsScanning = false
	s.state.StopRequested = false
	s.state.CurrentFile = ""
	s.state.Errors = append(s.state.Errors, "Scan failed: "+msg)
	s.mu.Unlock()
	s.publish(event.ScanFailed, map[string]any{"scan_id": scanID, "error": msg})
}

func (s *Service) publish(t event.Type, data map[string]any) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Publish(event.Event{Type: t, Data: data})
}

