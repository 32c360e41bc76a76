package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/daemon/store"
	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded runs",
	Long: `View the history of scans, watch reconciliations, evictions and
integrity checks recorded by modcache.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove records older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
	historyKind  string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVarP(&historyKind, "kind", "k", "", "only show one kind (scan, reconcile, evict, verify)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyRows(recs []*store.Record) []output.HistoryRow {
	rows := make([]output.HistoryRow, len(recs))
	for i, r := range recs {
		rows[i] = output.HistoryRow{
			ID:      r.ID,
			Kind:    string(r.Kind),
			Started: r.Started,
			Elapsed: r.Elapsed,
			Summary: r.Summary,
		}
	}
	return rows
}

func runHistory(_ *cobra.Command, _ []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	recs, err := h.List(historyLimit, store.Kind(historyKind))
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(recs) == 0 && !getQuiet() {
		printInfo("No history entries found. Run 'modcache scan' or 'modcache run' first.")
		return nil
	}
	return render(&output.Report{History: historyRows(recs)})
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	rec, err := h.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	report := &output.Report{Title: fmt.Sprintf("%s %s", rec.Kind, rec.Started.Format(time.DateTime))}
	switch rec.Kind {
	case store.KindScan:
		err = rec.Decode(&report.Scan)
	case store.KindEvict:
		err = rec.Decode(&report.Eviction)
	case store.KindVerify:
		err = rec.Decode(&report.Verify)
	default:
		var detail any
		if err = rec.Decode(&detail); err == nil {
			data, _ := json.Marshal(detail)
			report.Warnings = append(report.Warnings, string(data))
		}
	}
	if err != nil {
		return fmt.Errorf("decode %s record: %w", rec.Kind, err)
	}
	report.History = historyRows([]*store.Record{rec})
	return render(report)
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	days := cfg.History.RetentionDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	printInfo("Cleaning history entries older than %d days...", days)

	n, err := h.Prune(time.Now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d entries.", n)
	return nil
}
