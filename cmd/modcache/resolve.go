package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>...",
	Short: "Hash files and add them to the index",
	Long: `Resolve returns the index entry for each path, hashing and ingesting
files the index does not know yet. Paths must lie inside source_root or
cache_root.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(_ *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	a, err := openApp(appOptions{exclusive: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if err := a.svc.Load(ctx); err != nil {
		return err
	}

	paths := make([]string, len(args))
	for i, p := range args {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		paths[i] = p
	}

	resolved := a.svc.Resolve(ctx, paths)
	report := &output.Report{Entities: []output.EntityRow{}}
	for _, p := range paths {
		e := resolved[p]
		if e == nil {
			report.Warnings = append(report.Warnings, "could not resolve "+p)
			continue
		}
		report.Entities = append(report.Entities, output.NewEntityRow(*e, a.roots))
	}
	return render(report)
}
