package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
)

// DefaultProbeTimeout bounds how long a probe waits for its own event.
const DefaultProbeTimeout = 2 * time.Second

// ProbeCache remembers whether fsnotify delivers events for a library root.
// Network mounts often accept a watch and then never report anything, so
// such roots are left to manual or scheduled scans.
type ProbeCache struct {
	timeout time.Duration
	probe   func(path string, timeout time.Duration) bool

	mu      sync.RWMutex
	results map[string]bool
}

// NewProbeCache creates an empty cache that probes with ProbeFSNotify.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{
		timeout: DefaultProbeTimeout,
		probe:   ProbeFSNotify,
		results: make(map[string]bool),
	}
}

// Get returns the cached result for path. ok is false if path was never probed.
func (pc *ProbeCache) Get(path string) (supported, ok bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	supported, ok = pc.results[path]
	return
}

// Set records a result for path.
func (pc *ProbeCache) Set(path string, supported bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.results[path] = supported
}

// Supported returns the cached result for path, probing it first when it
// has not been seen. Missing or non-directory paths are not cached so they
// are retried once they appear.
func (pc *ProbeCache) Supported(path string) bool {
	if supported, ok := pc.Get(path); ok {
		return supported
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	supported := pc.probe(path, pc.timeout)
	pc.Set(path, supported)
	return supported
}

// ProbeAll probes every library root up front so the first watch refresh
// does not stall on slow mounts. It returns how many roots support events.
func (pc *ProbeCache) ProbeAll(ctx context.Context, libs []library.Library, logger *slog.Logger) int {
	n := 0
	for _, lib := range libs {
		if ctx.Err() != nil {
			break
		}
		supported := pc.Supported(lib.Path)
		if supported {
			n++
		}
		logger.Info("fsnotify probe",
			"library", lib.Name,
			"path", lib.Path,
			"supported", supported,
		)
	}
	return n
}

// ProbeFSNotify watches path, creates a hidden temporary file in it and
// reports whether the Create event arrives within timeout.
func ProbeFSNotify(path string, timeout time.Duration) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(path); err != nil {
		return false
	}

	f, err := os.CreateTemp(path, ".wardarr_probe_*")
	if err != nil {
		return false
	}
	probePath := f.Name()
	f.Close()                  //nolint:errcheck
	defer os.Remove(probePath) //nolint:errcheck

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == filepath.Base(probePath) {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}
