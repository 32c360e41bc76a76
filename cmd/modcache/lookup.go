package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var (
	lookupAll        bool
	lookupSourceOnly bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <hash>...",
	Short: "Find files by content hash",
	Long: `Lookup prints the file indexed under each SHA-1 hash. Source files are
preferred over cached copies. Entries are checked against the disk before
they are reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().BoolVarP(&lookupAll, "all", "a", false, "list every file with the hash")
	lookupCmd.Flags().BoolVar(&lookupSourceOnly, "source-only", false, "ignore cached copies (implies --all)")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(_ *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	a, err := openApp(appOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.idx.Load(context.Background()); err != nil {
		return err
	}

	report := &output.Report{Entities: []output.EntityRow{}}
	for _, hash := range args {
		if !index.ValidHash(hash) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%q is not a SHA-1 hash", hash))
			continue
		}

		var found []index.Entity
		if lookupAll || lookupSourceOnly {
			found = a.idx.LookupAll(hash, lookupSourceOnly, true)
		} else if e, ok := a.idx.Lookup(hash); ok {
			found = []index.Entity{e}
		}
		if len(found) == 0 {
			report.Warnings = append(report.Warnings, "not found: "+strings.ToLower(hash))
		}
		report.Entities = append(report.Entities, output.EntityRows(found, a.roots)...)
	}
	return render(report)
}
