package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter writes the whole report as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter writes one compact JSON object per entity or history
// record, suitable for streaming into jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	for _, e := range r.Entities {
		if err := encoder.Encode(e); err != nil {
			return err
		}
	}
	for _, h := range r.History {
		if err := encoder.Encode(h); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

var _ Formatter = (*JSONLFormatter)(nil)
