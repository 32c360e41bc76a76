package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var listRoot string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed files",
	Long: `List prints the index as stored on disk, sorted by logical path.
Entries are not re-validated; run scan for that.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listRoot, "root", "", "only list entries under this root (source or cache)")
	rootCmd.AddCommand(listCmd)
}

func runList(_ *cobra.Command, _ []string) error {
	var want index.Root
	switch listRoot {
	case "":
		want = index.RootAny
	case "source":
		want = index.RootSource
	case "cache":
		want = index.RootCache
	default:
		return fmt.Errorf("unknown root %q", listRoot)
	}

	if err := initLogging(); err != nil {
		return err
	}
	a, err := openApp(appOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.idx.Load(context.Background())
	if err != nil {
		return err
	}

	var entities []index.Entity
	for _, e := range a.idx.Entities() {
		if want == index.RootAny || e.Root() == want {
			entities = append(entities, e)
		}
	}

	report := &output.Report{Entities: output.EntityRows(entities, a.roots)}
	if res.Recovered {
		report.Warnings = append(report.Warnings, "index was restored from its backup")
	}
	if n := res.Malformed + res.Duplicates; n > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d unusable lines were skipped", n))
	}
	return render(report)
}
