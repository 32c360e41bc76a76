package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"
)

// PlainFormatter writes unstyled, column-aligned text for scripts and pipes.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	if r.Status != nil {
		s := r.Status
		state := "stopped"
		if s.Running {
			state = s.State
		}
		fmt.Fprintf(w, "state\t%s\npid\t%d\nsource\t%s\ncache\t%s\nentities\t%d\n",
			state, s.PID, s.Source, s.Cache, s.Entities)
	}
	if r.Scan != nil {
		fmt.Fprintln(w, ScanSummary(r.Scan))
	}
	if r.Eviction != nil {
		fmt.Fprintln(w, EvictionSummary(r.Eviction))
		for _, e := range r.Eviction.Evicted {
			fmt.Fprintf(w, "%d\t%s\n", e.Size, e.Path)
		}
	}
	if r.Verify != nil {
		fmt.Fprintln(w, VerifySummary(r.Verify))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	if r.Entities != nil {
		if _, err := tw.Write([]byte("HASH\tSIZE\tPATH\n")); err != nil {
			return err
		}
		for _, e := range r.Entities {
			if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Hash, e.SizeHuman, e.LogicalPath); err != nil {
				return err
			}
		}
	}
	for _, h := range r.History {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Started.Format(time.RFC3339), h.Kind, h.ID, h.Summary); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
