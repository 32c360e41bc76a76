package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage modcache configuration settings.

Configuration is loaded from $XDG_CONFIG_HOME/modcache/config.yaml or
~/.config/modcache/config.yaml. Environment variables override the file
using the MODCACHE_ prefix:
  MODCACHE_CACHE_ROOT=/games/cache
  MODCACHE_MAX_CACHE_SIZE=40GiB
  MODCACHE_WATCH_SOURCE_QUIET=30s`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:               "init",
	Short:             "Create a default configuration file",
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:               "path",
	Short:             "Show the configuration file path",
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if cfg.File != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.File)
	} else {
		fmt.Fprintf(out, "Config file: (using defaults, no file found)\n\n")
	}
	fmt.Fprint(out, describeConfig(cfg))

	fmt.Fprintln(out, "\nEnvironment Overrides:")
	fmt.Fprintln(out, "----------------------")
	found := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "MODCACHE_") {
			fmt.Fprintln(out, kv)
			found = true
		}
	}
	if !found {
		fmt.Fprintln(out, "(none)")
	}
	return nil
}

// describeConfig renders the effective settings one per line.
func describeConfig(c *config.Config) string {
	var b strings.Builder
	row := func(key string, value any) {
		fmt.Fprintf(&b, "%-24s %v\n", key+":", value)
	}
	b.WriteString("Current Configuration:\n")
	b.WriteString("----------------------\n")
	row("source_root", c.SourceRoot)
	row("cache_root", c.CacheRoot())
	row("max_cache_size", c.MaxCacheSize)
	row("index_path", c.IndexPath)
	row("workers", c.Workers)
	row("scan.subdir_pause", c.Scan.SubdirPause)
	row("watch.source_quiet", c.Watch.SourceQuiet)
	row("watch.cache_quiet", c.Watch.CacheQuiet)
	row("watch.buffer", c.Watch.Buffer)
	row("eviction.interval", c.Eviction.Interval)
	row("history.enabled", c.History.Enabled)
	row("history.path", c.History.Path)
	row("history.retention_days", c.History.RetentionDays)
	row("logging.level", c.Logging.Level)
	row("logging.path", c.Logging.Path)
	return b.String()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(config.ConfigDir(), "config.yaml"))
	return nil
}
