// Package watcher triggers scans when new video files appear under an
// enabled library root.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
)

// LibraryLister retrieves the libraries that should be watched.
type LibraryLister interface {
	ListEnabled(ctx context.Context) ([]library.Library, error)
}

// ScanFunc starts a scan. It returns scanner.ErrScanInProgress when one is
// already running.
type ScanFunc func(ctx context.Context) error

// Service watches library roots and their subdirectories. A new video file
// arms a debounce timer; when it fires a scan is started.
type Service struct {
	scanFn        ScanFunc
	libraries     LibraryLister
	isVideo       func(string) bool
	logger        *slog.Logger
	debounce      time.Duration
	refreshPeriod time.Duration
	probeCache    *ProbeCache

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	roots    map[string]bool
	watching map[string]string // directory -> owning root
}

// NewService creates a new filesystem watcher service. isVideo decides which
// created files count as media.
func NewService(scanFn ScanFunc, libraries LibraryLister, isVideo func(string) bool, logger *slog.Logger, probeCache *ProbeCache) *Service {
	return &Service{
		scanFn:        scanFn,
		libraries:     libraries,
		isVideo:       isVideo,
		logger:        logger.With("component", "fs-watcher"),
		debounce:      30 * time.Second,
		refreshPeriod: 5 * time.Minute,
		probeCache:    probeCache,
		roots:         make(map[string]bool),
		watching:      make(map[string]string),
	}
}

// SetDebounce overrides the debounce interval.
func (s *Service) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// SetRefreshPeriod overrides how often the library set is reloaded.
func (s *Service) SetRefreshPeriod(d time.Duration) {
	if d > 0 {
		s.refreshPeriod = d
	}
}

// Watching reports the number of directories currently watched.
func (s *Service) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watching)
}

// Start blocks until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	s.refreshWatchPaths(ctx)

	s.logger.Info("filesystem watcher starting", "debounce", s.debounce.String())

	refreshTicker := time.NewTicker(s.refreshPeriod)
	defer refreshTicker.Stop()

	// Starts stopped; armed by media events.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	scanPending := false
	arm := func() {
		if !debounceTimer.Stop() {
			select {
			case <-debounceTimer.C:
			default:
			}
		}
		debounceTimer.Reset(s.debounce)
		scanPending = true
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if s.handleFSEvent(ev) {
				arm()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if !scanPending {
				continue
			}
			scanPending = false
			s.logger.Info("debounce elapsed, triggering scan")
			err := s.scanFn(ctx)
			switch {
			case errors.Is(err, scanner.ErrScanInProgress):
				s.logger.Info("scan already running, retrying after debounce")
				arm()
			case err != nil:
				s.logger.Error("scan triggered by fs watcher failed", "error", err)
			}

		case <-refreshTicker.C:
			s.refreshWatchPaths(ctx)
		}
	}
}

// handleFSEvent tracks new directories and reports whether the event
// concerns media that should trigger a scan.
func (s *Service) handleFSEvent(ev fsnotify.Event) bool {
	switch {
	case ev.Has(fsnotify.Create):
	case ev.Has(fsnotify.Rename), ev.Has(fsnotify.Remove):
		s.unwatch(ev.Name)
		return false
	default:
		return false
	}

	parent := filepath.Dir(ev.Name)
	s.mu.Lock()
	root, watched := s.watching[parent]
	s.mu.Unlock()
	if !watched {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}

	if info.IsDir() {
		// Files can land in a new directory before its watch is added.
		found := s.addTree(ev.Name, root)
		if found {
			s.logger.Info("directory with media created in library", "path", ev.Name, "library_root", root)
		}
		return found
	}

	if !s.isVideo(ev.Name) {
		return false
	}
	s.logger.Info("media file created in library", "path", ev.Name, "library_root", root)
	return true
}

// addTree watches dir and every directory below it. It reports whether any
// video file was seen during the walk.
func (s *Service) addTree(dir, root string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if s.isVideo(path) {
				found = true
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return fs.SkipDir
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watching[path]; ok {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", "path", path, "error", err)
			return fs.SkipDir
		}
		s.watching[path] = root
		return nil
	})
	return found
}

// unwatch forgets path and anything below it. fsnotify drops the kernel
// watch for removed directories on its own.
func (s *Service) unwatch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := path + string(filepath.Separator)
	for dir := range s.watching {
		if dir == path || strings.HasPrefix(dir, prefix) {
			if s.roots[dir] {
				continue
			}
			_ = s.watcher.Remove(dir)
			delete(s.watching, dir)
		}
	}
}

// refreshWatchPaths synchronizes the watched roots with the enabled
// libraries.
func (s *Service) refreshWatchPaths(ctx context.Context) {
	libs, err := s.libraries.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list libraries for watch refresh", "error", err)
		return
	}

	wanted := make(map[string]bool)
	for _, lib := range libs {
		if s.probeCache != nil && !s.probeCache.Supported(lib.Path) {
			if _, probed := s.probeCache.Get(lib.Path); probed {
				continue
			}
		}
		info, err := os.Stat(lib.Path)
		if err != nil || !info.IsDir() {
			s.logger.Warn("library path not watchable",
				"library", lib.Name,
				"path", lib.Path,
				"error", err,
			)
			continue
		}
		wanted[lib.Path] = true
	}

	s.mu.Lock()
	for root := range s.roots {
		if wanted[root] {
			continue
		}
		for dir, owner := range s.watching {
			if owner == root {
				_ = s.watcher.Remove(dir)
				delete(s.watching, dir)
			}
		}
		delete(s.roots, root)
		s.logger.Info("stopped watching library path", "path", root)
	}
	var added []string
	for root := range wanted {
		if !s.roots[root] {
			s.roots[root] = true
			added = append(added, root)
		}
	}
	s.mu.Unlock()

	for _, root := range added {
		s.addTree(root, root)
		s.logger.Info("watching library path", "path", root)
	}
}
