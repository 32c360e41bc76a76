// Package config provides configuration management for modcache.
package config

import "time"

// Default configuration values.
const (
	// DefaultMaxCacheSize is the quota applied to the cache tree.
	DefaultMaxCacheSize = "20GiB"

	// DefaultSubdirPause is the pause between source subdirectories during a scan.
	DefaultSubdirPause = 50 * time.Millisecond

	// DefaultSourceQuiet is the debounce window of the source tree watcher.
	DefaultSourceQuiet = 10 * time.Second

	// DefaultCacheQuiet is the debounce window of the cache tree watcher.
	DefaultCacheQuiet = 5 * time.Second

	// DefaultWatchBuffer is the capacity of each watch stream's change channel.
	DefaultWatchBuffer = 8192

	// DefaultEvictionInterval is how often the quota sweep runs.
	DefaultEvictionInterval = 10 * time.Minute

	// DefaultRetentionDays is how long run history is kept.
	DefaultRetentionDays = 30
)
