// Package output renders modcache reports (index entities, run results,
// history and daemon status) in the formats the CLI offers.
//
// Formatters are kept in a registry and selected by name at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// EntityRow is one index entity prepared for display.
type EntityRow struct {
	Hash           string    `json:"hash" yaml:"hash"`
	LogicalPath    string    `json:"logical_path" yaml:"logical_path"`
	Path           string    `json:"path,omitempty" yaml:"path,omitempty"`
	Root           string    `json:"root" yaml:"root"`
	Modified       time.Time `json:"modified" yaml:"modified"`
	Size           int64     `json:"size" yaml:"size"`
	SizeHuman      string    `json:"size_human" yaml:"size_human"`
	CompressedSize int64     `json:"compressed_size" yaml:"compressed_size"`
}

// HistoryRow is one recorded daemon run.
type HistoryRow struct {
	ID      string        `json:"id" yaml:"id"`
	Kind    string        `json:"kind" yaml:"kind"`
	Started time.Time     `json:"started" yaml:"started"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	Summary string        `json:"summary" yaml:"summary"`
}

// StatusInfo describes the daemon as seen from the CLI.
type StatusInfo struct {
	Running   bool      `json:"running" yaml:"running"`
	State     string    `json:"state,omitempty" yaml:"state,omitempty"`
	PID       int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Cache     string    `json:"cache,omitempty" yaml:"cache,omitempty"`
	Entities  int       `json:"entities" yaml:"entities"`
	Watching  []string  `json:"watching,omitempty" yaml:"watching,omitempty"`
	Halted    []string  `json:"halted,omitempty" yaml:"halted,omitempty"`
	LastScan  time.Time `json:"last_scan,omitzero" yaml:"last_scan,omitempty"`
	LastEvict time.Time `json:"last_evict,omitzero" yaml:"last_evict,omitempty"`
	Updated   time.Time `json:"updated,omitzero" yaml:"updated,omitempty"`
}

// Report is everything a command may want to print. Only the populated
// sections are rendered.
type Report struct {
	Title    string                `json:"title,omitempty" yaml:"title,omitempty"`
	Entities []EntityRow           `json:"entities,omitempty" yaml:"entities,omitempty"`
	Scan     *types.ScanResult     `json:"scan,omitempty" yaml:"scan,omitempty"`
	Eviction *types.EvictionResult `json:"eviction,omitempty" yaml:"eviction,omitempty"`
	Verify   *types.VerifyResult   `json:"verify,omitempty" yaml:"verify,omitempty"`
	History  []HistoryRow          `json:"history,omitempty" yaml:"history,omitempty"`
	Status   *StatusInfo           `json:"status,omitempty" yaml:"status,omitempty"`
	Warnings []string              `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// TotalSize sums the known sizes of the report's entities.
func (r *Report) TotalSize() int64 {
	var total int64
	for _, e := range r.Entities {
		if e.Size > 0 {
			total += e.Size
		}
	}
	return total
}

// NewEntityRow converts an entity. roots may be nil, in which case Path is
// left empty.
func NewEntityRow(e index.Entity, roots index.Roots) EntityRow {
	row := EntityRow{
		Hash:           e.Hash,
		LogicalPath:    e.LogicalPath,
		Root:           e.Root().String(),
		Modified:       time.Unix(0, e.Modified),
		Size:           e.Size,
		SizeHuman:      types.FormatSize(e.Size),
		CompressedSize: e.CompressedSize,
	}
	if roots != nil {
		row.Path = e.ResolvedPath(roots)
	}
	return row
}

// EntityRows converts a slice of entities.
func EntityRows(entities []index.Entity, roots index.Roots) []EntityRow {
	rows := make([]EntityRow, len(entities))
	for i, e := range entities {
		rows[i] = NewEntityRow(e, roots)
	}
	return rows
}

// Formatter writes a report.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the sorted formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns the default registry's formatter names.
func Available() []string {
	return DefaultRegistry.Available()
}
