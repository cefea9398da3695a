package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Libraries []LibrarySeed   `yaml:"libraries"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path                  string `yaml:"path"`
	OptimizeIntervalHours int    `yaml:"optimize_interval_hours"`
	// BackupDir defaults to a "backups" directory next to the database.
	BackupDir           string `yaml:"backup_dir"`
	BackupKeep          int    `yaml:"backup_keep"`
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
}

// MatcherConfig describes how the external verification worker is launched.
type MatcherConfig struct {
	Interpreter string  `yaml:"interpreter"`
	ScriptPath  string  `yaml:"script_path"`
	WorkDir     string  `yaml:"work_dir"`
	Threshold   float64 `yaml:"threshold"`
	MaxStills   int     `yaml:"max_stills"`
	Strict      bool    `yaml:"strict"`
	ForceCPU    bool    `yaml:"force_cpu"`
}

// ArtifactsConfig controls where evidence images are published.
type ArtifactsConfig struct {
	Dir          string `yaml:"dir"`
	PublicPrefix string `yaml:"public_prefix"`
	MaxWidth     int    `yaml:"max_width"`
}

// ScannerConfig holds discovery settings.
type ScannerConfig struct {
	Extensions []string `yaml:"extensions"`
}

// WatcherConfig controls filesystem-triggered scans.
type WatcherConfig struct {
	Enabled         bool `yaml:"enabled"`
	DebounceSeconds int  `yaml:"debounce_seconds"`
}

// WebhookConfig is a notification endpoint for scan events.
type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Type   string   `yaml:"type"`
	Events []string `yaml:"events"`
}

// LibrarySeed is a library created at startup when its path is not yet registered.
type LibrarySeed struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     5000,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path:                  "/data/wardarr.db",
			OptimizeIntervalHours: 24,
			BackupKeep:            7,
		},
		Matcher: MatcherConfig{
			Interpreter: "python3",
			ScriptPath:  "scripts/clip-matcher.py",
			Threshold:   0.40,
			MaxStills:   2,
		},
		Artifacts: ArtifactsConfig{
			Dir:          "/data/verification",
			PublicPrefix: "/verification",
		},
		Watcher: WatcherConfig{
			DebounceSeconds: 30,
		},
		Logging: LoggingConfig{
			// An empty format picks text on a terminal and json otherwise.
			Level: "info",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns the config file location, honoring WARDARR_CONFIG_PATH.
func PathFromEnv() string {
	if v := os.Getenv("WARDARR_CONFIG_PATH"); v != "" {
		return v
	}
	return "/data/config.yaml"
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("WARDARR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WARDARR_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("WARDARR_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("WARDARR_BACKUP_DIR"); v != "" {
		c.Database.BackupDir = v
	}
	if v := os.Getenv("WARDARR_MATCHER_SCRIPT"); v != "" {
		c.Matcher.ScriptPath = v
	}
	if v, ok := os.LookupEnv("WARDARR_MATCHER_INTERPRETER"); ok {
		c.Matcher.Interpreter = v
	}
	if v := os.Getenv("WARDARR_ARTIFACTS_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("WARDARR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WARDARR_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("WARDARR_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("WARDARR_WATCH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Watcher.Enabled = enabled
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.BackupKeep < 0 || c.Database.BackupIntervalHours < 0 {
		return fmt.Errorf("database backup settings must not be negative")
	}
	if c.Database.BackupDir == "" {
		c.Database.BackupDir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	if strings.TrimSpace(c.Matcher.ScriptPath) == "" {
		return fmt.Errorf("matcher script path is required")
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher threshold must be between 0 and 1: %v", c.Matcher.Threshold)
	}
	if c.Matcher.MaxStills < 0 {
		return fmt.Errorf("matcher max_stills must not be negative: %d", c.Matcher.MaxStills)
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required")
	}
	if c.Artifacts.MaxWidth < 0 {
		return fmt.Errorf("artifacts max_width must not be negative: %d", c.Artifacts.MaxWidth)
	}
	c.Artifacts.PublicPrefix = "/" + strings.Trim(c.Artifacts.PublicPrefix, "/")
	if c.Artifacts.PublicPrefix == "/" {
		return fmt.Errorf("artifacts public_prefix must not be the root path")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Watcher.DebounceSeconds <= 0 {
		c.Watcher.DebounceSeconds = 30
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
	}
	for i, l := range c.Libraries {
		if l.Path == "" {
			return fmt.Errorf("library %d: path is required", i)
		}
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}
