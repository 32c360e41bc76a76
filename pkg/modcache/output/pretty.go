package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// PrettyFormatter renders reports with lipgloss styling for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	if r.Title != "" {
		w.WriteString(TitleStyle.Render(r.Title))
		w.WriteString("\n\n")
	}
	if r.Status != nil {
		w.WriteString(f.formatStatus(r.Status))
		w.WriteString("\n")
	}
	if r.Scan != nil {
		w.WriteString(f.formatScan(r.Scan))
		w.WriteString("\n")
	}
	if r.Eviction != nil {
		w.WriteString(f.formatEviction(r.Eviction))
		w.WriteString("\n")
	}
	if r.Verify != nil {
		w.WriteString(f.formatVerify(r.Verify))
		w.WriteString("\n")
	}
	if r.Entities != nil {
		w.WriteString(f.formatEntities(r))
	}
	if r.History != nil {
		w.WriteString(f.formatHistory(r.History))
	}
	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + value
}

func (f *PrettyFormatter) formatStatus(s *StatusInfo) string {
	var lines []string
	switch {
	case !s.Running:
		lines = append(lines, field("Daemon", MutedStyle.Render("not running")))
	case s.State == "error":
		lines = append(lines, field("Daemon", ErrorStyle.Render("error: "+s.Error)))
	default:
		lines = append(lines, field("Daemon", SuccessStyle.Render(fmt.Sprintf("%s (pid %d)", s.State, s.PID))))
	}
	if s.Source != "" {
		lines = append(lines, field("Source", ValueStyle.Render(s.Source)))
	}
	if s.Cache != "" {
		lines = append(lines, field("Cache", ValueStyle.Render(s.Cache)))
	}
	lines = append(lines, field("Entities", ValueStyle.Render(humanize.Comma(int64(s.Entities)))))
	if len(s.Watching) > 0 {
		lines = append(lines, field("Watching", ValueStyle.Render(strings.Join(s.Watching, ", "))))
	}
	if len(s.Halted) > 0 {
		lines = append(lines, field("Halted", WarningStyle.Render(strings.Join(s.Halted, ", "))))
	}
	if !s.LastScan.IsZero() {
		lines = append(lines, field("Last scan", MutedStyle.Render(humanize.Time(s.LastScan))))
	}
	if !s.LastEvict.IsZero() {
		lines = append(lines, field("Last eviction", MutedStyle.Render(humanize.Time(s.LastEvict))))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatScan(s *types.ScanResult) string {
	lines := []string{TitleStyle.Render("Scan")}
	switch {
	case s.Skipped:
		lines = append(lines, WarningStyle.Render("skipped: root unavailable"))
	case s.Cancelled:
		lines = append(lines, WarningStyle.Bold(true).Render("cancelled"))
	default:
		lines = append(lines,
			field("Files", ValueStyle.Render(humanize.Comma(s.Candidates))),
			field("Added", SuccessStyle.Render(humanize.Comma(s.Added)))+"  "+
				field("Updated", ValueStyle.Render(humanize.Comma(s.Updated)))+"  "+
				field("Removed", ValueStyle.Render(humanize.Comma(s.Removed))),
			field("Took", MutedStyle.Render(formatDuration(s.Elapsed))))
	}
	for _, e := range s.Errors {
		lines = append(lines, ErrorStyle.Render("  "+e.Path+": "+e.Error))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatEviction(e *types.EvictionResult) string {
	lines := []string{TitleStyle.Render("Eviction")}
	if e.DryRun {
		lines[0] += " " + WarningStyle.Render("(dry run)")
	}
	lines = append(lines,
		field("Quota", SizeStyle.Render(types.FormatSize(e.MaxSize)))+"  "+
			field("Before", ValueStyle.Render(types.FormatSize(e.SizeBefore)))+"  "+
			field("After", ValueStyle.Render(types.FormatSize(e.SizeAfter))))
	if !e.Triggered {
		lines = append(lines, MutedStyle.Render("under quota, nothing evicted"))
	}
	for _, ev := range e.Evicted {
		lines = append(lines, "  "+SizeStyle.Render(padLeft(types.FormatSize(ev.Size), 10))+"  "+ev.Path)
	}
	for _, fail := range e.Failures {
		lines = append(lines, ErrorStyle.Render("  "+fail.Path+": "+fail.Error))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatVerify(v *types.VerifyResult) string {
	lines := []string{
		TitleStyle.Render("Integrity check"),
		field("Checked", ValueStyle.Render(humanize.Comma(v.Checked))),
	}
	broken := SuccessStyle.Render("0")
	if v.Broken > 0 {
		broken = ErrorStyle.Render(humanize.Comma(v.Broken))
	}
	lines = append(lines, field("Broken", broken)+"  "+field("Missing", ValueStyle.Render(humanize.Comma(v.Missing))))
	if v.Cancelled {
		lines = append(lines, WarningStyle.Render("cancelled"))
	}
	for _, e := range v.Errors {
		lines = append(lines, ErrorStyle.Render("  "+e.Path+": "+e.Error))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatEntities(r *Report) string {
	if len(r.Entities) == 0 {
		return MutedStyle.Render("  No entities found\n")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("HASH", 40)),
		TableHeaderStyle.Render(padLeft("SIZE", 10)),
		TableHeaderStyle.Render("PATH")))
	for _, e := range r.Entities {
		path := e.LogicalPath
		if e.Path != "" {
			path = e.Path
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
			HashStyle.Render(e.Hash),
			SizeStyle.Render(padLeft(e.SizeHuman, 10)),
			ValueStyle.Render(path)))
	}

	footer := field("Entities", ValueStyle.Render(humanize.Comma(int64(len(r.Entities))))) + "  " +
		field("Total", SizeStyle.Render(types.FormatSize(r.TotalSize()))) + "  " +
		MutedStyle.Render("Use -o plain for unformatted output")
	sb.WriteString(FooterBox.Render(footer))
	sb.WriteString("\n")
	return sb.String()
}

func (f *PrettyFormatter) formatHistory(rows []HistoryRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("  No history recorded\n")
	}
	var sb strings.Builder
	for _, h := range rows {
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
			MutedStyle.Render(h.Started.Format(time.DateTime)),
			TitleStyle.Render(padRight(h.Kind, 9)),
			ValueStyle.Render(h.Summary)))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
