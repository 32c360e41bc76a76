package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var evictDryRun bool

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Bring the cache under its quota",
	Long: `Evict deletes the least recently accessed files in cache_root until its
size on disk is 5% below max_cache_size. Nothing happens while the cache
is under quota.`,
	Args: cobra.NoArgs,
	RunE: runEvict,
}

func init() {
	evictCmd.Flags().BoolVarP(&evictDryRun, "dry-run", "d", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(evictCmd)
}

func runEvict(_ *cobra.Command, _ []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	a, err := openApp(appOptions{exclusive: true, history: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if err := a.svc.Load(ctx); err != nil {
		return err
	}
	res, err := a.svc.Evict(ctx, evictDryRun)
	if err != nil {
		return err
	}
	return render(&output.Report{Eviction: res})
}
