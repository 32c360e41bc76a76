package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash cached files and delete corrupt ones",
	Long: `Verify re-hashes every cache entry. Files whose content no longer
matches their hash are deleted and dropped from the index so they are
downloaded again.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(_ *cobra.Command, _ []string) error {
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

	var progress func(done, total int)
	if !getQuiet() {
		progress = func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rverifying %d/%d", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}
	res := a.svc.Verify(ctx, progress)
	return render(&output.Report{Verify: &res})
}
