package output

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter renders a report with a user-supplied text/template.
type TemplateFormatter struct {
	templateStr string
	template    *template.Template
	mu          sync.Mutex
}

type templateData struct {
	*Report
	TotalSize int64
}

// NewTemplateFormatter creates a template formatter.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{templateStr: templateStr}
}

// SetTemplate replaces the template string.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{date .Modified "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		// {{bytes .Size}}
		"bytes": func(size int64) string {
			if size < 0 {
				return "unknown"
			}
			return humanize.IBytes(uint64(size))
		},
	}
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}
	return f.template.Execute(w, templateData{Report: r, TotalSize: r.TotalSize()})
}

const defaultTemplate = `{{range .Entities}}{{.Hash}}	{{.LogicalPath}}
{{end}}`

func init() {
	Register("template", func() Formatter {
		return NewTemplateFormatter(defaultTemplate)
	})
}

var _ Formatter = (*TemplateFormatter)(nil)
