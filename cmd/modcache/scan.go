package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the index against both trees once",
	Long: `Scan validates every indexed file, drops entries for files that are
gone, re-hashes files that changed and ingests files that are new. The
index is saved when the scan completes. Interrupting a scan leaves the
index untouched.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(_ *cobra.Command, _ []string) error {
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
	printVerbose("loaded %d entities from %s", a.idx.Len(), a.idx.Path())

	res, err := a.svc.Scan(ctx)
	if err != nil {
		return err
	}
	return render(&output.Report{Scan: res})
}
