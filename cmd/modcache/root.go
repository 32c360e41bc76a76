package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "modcache",
		Short: "Content-addressed index for game mod files",
		Long: `modcache keeps a hash-addressed index of a read-only mod source tree
and a quota-managed download cache, so any file can be found by the hash
of its content.

Examples:
  modcache run                       # Run the daemon in the foreground
  modcache scan                      # One-shot full reconciliation
  modcache lookup <sha1>             # Find a file by content hash
  modcache evict --dry-run           # Preview a quota sweep
  modcache history                   # Show recent runs`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/modcache/config.yaml)")
	rootCmd.PersistentFlags().String("source", "", "override source_root")
	rootCmd.PersistentFlags().String("cache", "", "override cache_root")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format: "+fmt.Sprint(output.Available()))
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// loadConfig reads configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		c.SourceRoot = v
	}
	if v, _ := cmd.Flags().GetString("cache"); v != "" {
		c.CacheRootPath = v
	}
	if getVerbose() {
		c.Logging.Console = "debug"
	}
	cfg = c
	return nil
}

// initLogging starts file logging. Warnings also go to stderr unless the
// config or --verbose asks for more.
func initLogging() error {
	opts, err := cfg.LoggingOptions()
	if err != nil {
		return err
	}
	if opts.ConsoleLevel == "" && !getQuiet() {
		opts.ConsoleLevel = "warn"
	}
	return logging.Init(opts)
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	return rootCmd.Execute()
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

func printVerbose(format string, args ...any) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

func printInfo(format string, args ...any) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// render formats report with the selected formatter and prints it.
func render(report *output.Report) error {
	name := viper.GetString("output")
	if name == "" {
		name = "pretty"
	}
	f, err := output.Get(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, report); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err = os.Stdout.Write(buf.Bytes())
	return err
}
