package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	FilePath       string `json:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// Validate reports whether level and format are recognized.
func (c Config) Validate() error {
	if !ValidLevel(c.Level) {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	if !ValidFormat(c.Format) {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// TerminalFormat picks "text" when f is an interactive terminal and
// "json" otherwise. An explicit format always wins.
func TerminalFormat(explicit string, f *os.File) string {
	if explicit != "" {
		return explicit
	}
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "text"
	}
	return "json"
}

// SwappableHandler is a slog.Handler whose delegate can be replaced while
// loggers derived from it stay valid.
type SwappableHandler struct {
	inner atomic.Pointer[slog.Handler]
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	s := &SwappableHandler{}
	s.inner.Store(&h)
	return s
}

// Swap replaces the inner handler.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *SwappableHandler) load() slog.Handler {
	return *s.inner.Load()
}

// Enabled delegates to the inner handler.
func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.load().Enabled(ctx, level)
}

// Handle delegates to the inner handler.
func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.load().Handle(ctx, r)
}

// WithAttrs returns a new SwappableHandler whose inner handler has the attrs.
func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewSwappableHandler(s.load().WithAttrs(attrs))
}

// WithGroup returns a new SwappableHandler whose inner handler has the group.
func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	return NewSwappableHandler(s.load().WithGroup(name))
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	stdout   io.Writer

	mu     sync.Mutex
	config Config
	closer io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager writing to stdout and returns it along with
// a ready-to-use logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return NewManagerTo(cfg, os.Stdout)
}

// NewManagerTo is NewManager with a different console writer. CLI commands
// use it to keep logs off stdout.
func NewManagerTo(cfg Config, stdout io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	m := &Manager{
		levelVar: lvl,
		stdout:   stdout,
		config:   cfg,
	}
	writer, closer := m.buildWriter(cfg)
	m.closer = closer
	m.handler = NewSwappableHandler(buildHandler(writer, lvl, cfg.Format))

	return m, slog.New(m.handler)
}

// Reconfigure applies a new configuration at runtime. Level-only changes
// go through the LevelVar; format or file changes rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	rebuild := cfg.Format != m.config.Format ||
		cfg.FilePath != m.config.FilePath ||
		cfg.FileMaxSizeMB != m.config.FileMaxSizeMB ||
		cfg.FileMaxFiles != m.config.FileMaxFiles ||
		cfg.FileMaxAgeDays != m.config.FileMaxAgeDays

	if rebuild {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		writer, closer := m.buildWriter(cfg)
		m.handler.Swap(buildHandler(writer, m.levelVar, cfg.Format))
		m.closer = closer
	}

	m.config = cfg
	return nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file writer, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// buildWriter returns stdout alone, or stdout plus a rotating file when a
// file path is configured.
func (m *Manager) buildWriter(cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return m.stdout, nil
	}

	defaults := DefaultConfig()
	maxSize := cfg.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = defaults.FileMaxSizeMB
	}
	maxFiles := cfg.FileMaxFiles
	if maxFiles <= 0 {
		maxFiles = defaults.FileMaxFiles
	}
	maxAge := cfg.FileMaxAgeDays
	if maxAge <= 0 {
		maxAge = defaults.FileMaxAgeDays
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		MaxAge:     maxAge,
	}
	return io.MultiWriter(m.stdout, lj), lj
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	return s == "text" || s == "json"
}
