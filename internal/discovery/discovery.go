// Package discovery walks library roots and yields candidate video files.
package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions is the video container allow-list used when no
// override is configured.
var DefaultExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".wmv", ".m4v",
	".webm", ".ts", ".m2ts", ".mpg", ".mpeg", ".flv",
}

// Candidate is a discovered video file awaiting a verification decision.
type Candidate struct {
	Path      string
	LibraryID string
}

// Discoverer finds video files beneath a directory tree.
type Discoverer struct {
	exts   map[string]struct{}
	logger *slog.Logger
}

// New creates a Discoverer. An empty extensions list selects DefaultExtensions.
func New(logger *slog.Logger, extensions []string) *Discoverer {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Discoverer{
		exts:   exts,
		logger: logger.With("component", "discovery"),
	}
}

// IsVideo reports whether path has an allowed extension. Case is ignored.
func (d *Discoverer) IsVideo(path string) bool {
	_, ok := d.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Discover returns every regular video file under root. Unreadable
// directories contribute nothing and the walk carries on with their
// siblings. The walk stops early, returning what it has, if ctx is done.
func (d *Discoverer) Discover(ctx context.Context, root, libraryID string) []Candidate {
	var out []Candidate

	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.logger.Debug("skipping unreadable path", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !d.IsVideo(entry.Name()) {
			return nil
		}

		if !entry.Type().IsRegular() {
			// Follow symlinks and drop devices, sockets and the like.
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				return nil
			}
		}

		out = append(out, Candidate{Path: path, LibraryID: libraryID})
		return nil
	})

	return out
}
