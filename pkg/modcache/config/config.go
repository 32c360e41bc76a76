package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/modcache/pkg/modcache/logging"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Console    string            `mapstructure:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ScanConfig tunes full reconciliation.
type ScanConfig struct {
	SubdirPause time.Duration `mapstructure:"subdir_pause"`
}

// WatchConfig tunes the real-time watch streams.
type WatchConfig struct {
	SourceQuiet time.Duration `mapstructure:"source_quiet"`
	CacheQuiet  time.Duration `mapstructure:"cache_quiet"`
	Buffer      int           `mapstructure:"buffer"`
}

// EvictionConfig tunes the quota sweep.
type EvictionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	SourceRoot    string         `mapstructure:"source_root"`
	CacheRootPath string         `mapstructure:"cache_root"`
	MaxCacheSize  string         `mapstructure:"max_cache_size"`
	IndexPath     string         `mapstructure:"index_path"`
	Workers       int            `mapstructure:"workers"`
	Scan          ScanConfig     `mapstructure:"scan"`
	Watch         WatchConfig    `mapstructure:"watch"`
	Eviction      EvictionConfig `mapstructure:"eviction"`
	History       HistoryConfig  `mapstructure:"history"`
	Logging       LoggingConfig  `mapstructure:"logging"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// CacheRoot returns the managed cache directory.
func (c *Config) CacheRoot() string {
	return c.CacheRootPath
}

// MaxCacheSizeBytes parses MaxCacheSize.
func (c *Config) MaxCacheSizeBytes() (int64, error) {
	n, err := types.ParseSize(c.MaxCacheSize)
	if err != nil {
		return 0, fmt.Errorf("max_cache_size: %w", err)
	}
	return n, nil
}

// LoggingOptions converts the logging section to logging.Config.
func (c *Config) LoggingOptions() (logging.Config, error) {
	rot := logging.DefaultRotationConfig()
	if c.Logging.Rotation.MaxSize != "" {
		n, err := types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		rot.MaxSize = n
	}
	rot.MaxAge = c.Logging.Rotation.MaxAge
	rot.MaxBackups = c.Logging.Rotation.MaxBackups
	rot.Daily = c.Logging.Rotation.Daily

	return logging.Config{
		Level:        c.Logging.Level,
		Path:         c.Logging.Path,
		Rotation:     rot,
		Components:   c.Logging.Components,
		ConsoleLevel: c.Logging.Console,
	}, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.MaxCacheSizeBytes(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Load reads configuration from file and environment.
//
// If path is empty the file is looked up as config.yaml in
// $XDG_CONFIG_HOME/modcache and $HOME/.config/modcache. Environment
// variables use the MODCACHE_ prefix, e.g. MODCACHE_CACHE_ROOT.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "modcache"))
		}
	}

	v.SetEnvPrefix("MODCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	var err error
	for _, p := range []*string{&cfg.SourceRoot, &cfg.CacheRootPath, &cfg.IndexPath, &cfg.History.Path, &cfg.Logging.Path} {
		if *p, err = ExpandPath(*p); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_root", "")
	v.SetDefault("cache_root", "")
	v.SetDefault("max_cache_size", DefaultMaxCacheSize)
	v.SetDefault("index_path", DefaultIndexPath())
	v.SetDefault("workers", 0)

	v.SetDefault("scan.subdir_pause", DefaultSubdirPause)

	v.SetDefault("watch.source_quiet", DefaultSourceQuiet)
	v.SetDefault("watch.cache_quiet", DefaultCacheQuiet)
	v.SetDefault("watch.buffer", DefaultWatchBuffer)

	v.SetDefault("eviction.interval", DefaultEvictionInterval)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_age", 14)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"index":   "info",
		"scanner": "info",
		"watcher": "warn",
		"evict":   "info",
		"daemon":  "info",
	})
}

// ConfigDir returns $XDG_CONFIG_HOME/modcache.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "modcache")
}

// DataDir returns $XDG_DATA_HOME/modcache, home of the index, history and PID file.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "modcache")
}

// DefaultIndexPath returns the default flat-file index location.
func DefaultIndexPath() string {
	return filepath.Join(DataDir(), "index.txt")
}

// DefaultHistoryPath returns the default run history database directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}

// DefaultPIDPath returns the daemon PID file location.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "modcache.pid")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// WriteDefault writes a commented config file to ConfigDir if none exists
// and returns its path.
func WriteDefault() (string, error) {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	content := fmt.Sprintf(`# modcache configuration

# Read-only tree of installed mod files. Usually supplied by the game
# integration at runtime; set here for standalone use.
source_root: ""

# Directory of downloaded files owned by modcache. Files are named by hash.
cache_root: ""

# Quota for cache_root. Least recently accessed files are evicted above it.
max_cache_size: %s

# Flat-file index location.
index_path: %s

# Validation/ingestion workers (0 = half the CPUs, between 2 and 8).
workers: 0

scan:
  subdir_pause: %s

watch:
  source_quiet: %s
  cache_quiet: %s
  buffer: %d

eviction:
  interval: %s

history:
  enabled: true
  path: %s
  retention_days: %d

logging:
  level: info
  path: ""
  console: ""
  rotation:
    max_size: 10MiB
    max_age: 14
    max_backups: 5
    daily: true
`, DefaultMaxCacheSize, DefaultIndexPath(), DefaultSubdirPause, DefaultSourceQuiet, DefaultCacheQuiet,
		DefaultWatchBuffer, DefaultEvictionInterval, DefaultHistoryPath(), DefaultRetentionDays)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}
