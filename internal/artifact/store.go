// Package artifact publishes worker evidence images under a stable,
// collision-free public name.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/filesystem"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/image"
)

// BestMatchName is the file a worker writes for its strongest match.
const BestMatchName = "best_match.jpg"

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// Config controls where artifacts land and how they are addressed.
type Config struct {
	Dir          string
	PublicPrefix string
	MaxWidth     int
}

// Store copies evidence into Dir and returns PublicPrefix-relative paths.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store.
func New(cfg Config, logger *slog.Logger) *Store {
	cfg.PublicPrefix = "/" + strings.Trim(cfg.PublicPrefix, "/")
	return &Store{
		cfg:    cfg,
		logger: logger.With("component", "artifact"),
		now:    time.Now,
	}
}

// Dir returns the directory artifacts are written to.
func (s *Store) Dir() string { return s.cfg.Dir }

// PublicPrefix returns the URL prefix artifacts are served under.
func (s *Store) PublicPrefix() string { return s.cfg.PublicPrefix }

// Publish copies the image at src (or the chosen image inside src when it
// is a directory) into the store, naming it after ref. It returns the
// public path, or "" when anything goes wrong.
func (s *Store) Publish(src, ref string) string {
	log := s.logger.With("source", src, "file", ref)
	if src == "" {
		return ""
	}

	img, err := resolveSource(src)
	if err != nil {
		log.Warn("evidence image unavailable", "error", err)
		return ""
	}

	info, err := os.Stat(img)
	if err != nil {
		log.Warn("evidence image unavailable", "error", err)
		return ""
	}
	if info.Size() == 0 {
		log.Warn("evidence image is empty", "image", img)
		return ""
	}

	name, err := s.publish(img, ref)
	if err != nil {
		log.Warn("copying evidence image failed", "image", img, "error", err)
		return ""
	}

	public := s.cfg.PublicPrefix + "/" + name
	log.Debug("evidence image published", "path", public)
	return public
}

func (s *Store) publish(img, ref string) (string, error) {
	ext := strings.ToLower(filepath.Ext(img))

	if s.cfg.MaxWidth <= 0 {
		dst, name, err := s.reserve(ref, ext)
		if err != nil {
			return "", err
		}
		if _, err := filesystem.CopyFileAtomic(img, dst, 0o644); err != nil {
			return "", err
		}
		return name, nil
	}

	data, err := os.ReadFile(img) //nolint:gosec // G304: path announced by the matcher worker
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	out, format, resized, err := image.Downscale(data, s.cfg.MaxWidth)
	if err != nil {
		return "", err
	}
	if resized {
		ext = image.Extension(format)
	}
	dst, name, err := s.reserve(ref, ext)
	if err != nil {
		return "", err
	}
	if err := filesystem.WriteFileAtomic(dst, out, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// reserve picks a file name in the store that does not exist yet.
func (s *Store) reserve(ref, ext string) (path, name string, err error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil { //nolint:gosec // G301: served publicly
		return "", "", fmt.Errorf("creating artifact dir: %w", err)
	}
	base := fmt.Sprintf("%d_%s", s.now().UnixMilli(), sanitize(ref))
	name = base + ext
	for n := 1; ; n++ {
		path = filepath.Join(s.cfg.Dir, name)
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			return path, name, nil
		}
		name = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

// sanitize keeps letters, digits, '-', '_' and '.' of the reference base
// name (without its extension) and replaces everything else with '_'.
func sanitize(ref string) string {
	base := filepath.Base(ref)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	s := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, base)
	if s == "" || s == "." {
		return "evidence"
	}
	return s
}

// resolveSource returns src itself for a file. For a directory it returns
// best_match.jpg when present, else the lexically last image file.
func resolveSource(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return src, nil
	}

	best := filepath.Join(src, BestMatchName)
	if fi, err := os.Stat(best); err == nil && fi.Mode().IsRegular() {
		return best, nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no images in %s", src)
	}
	sort.Strings(names)
	return filepath.Join(src, names[len(names)-1]), nil
}
