package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// TSVFormatter writes entities as tab-separated values.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString("HASH\tSIZE\tPATH\n")
	for _, e := range r.Entities {
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.Hash, e.Size, e.LogicalPath)
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter writes entities as RFC 4180 comma-separated values.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"HASH", "SIZE", "COMPRESSED_SIZE", "PATH"}); err != nil {
		return err
	}
	for _, e := range r.Entities {
		row := []string{e.Hash, strconv.FormatInt(e.Size, 10), strconv.FormatInt(e.CompressedSize, 10), e.LogicalPath}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

var _ Formatter = (*CSVFormatter)(nil)

// MarkdownFormatter writes entities as a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString("| HASH | SIZE | PATH |\n")
	w.WriteString("|------|------|------|\n")
	for _, e := range r.Entities {
		fmt.Fprintf(w, "| %s | %s | %s |\n", e.Hash, escapeMarkdownPipe(e.SizeHuman), escapeMarkdownPipe(e.LogicalPath))
	}
	return nil
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

var _ Formatter = (*MarkdownFormatter)(nil)
