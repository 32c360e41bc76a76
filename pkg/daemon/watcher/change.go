// Package watcher turns filesystem notifications for the source and cache
// trees into debounced batches of index reconciliation.
//
// A Watcher converts fsnotify events into Changes. A Debouncer collects
// Changes until its tree has been quiet for a while and reconciliation is
// not halted, then hands the batch to a Reconciler.
package watcher

// Kind is the kind of filesystem change.
type Kind int

const (
	Created Kind = iota
	Changed
	Removed
	Renamed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Change is one observed filesystem change.
type Change struct {
	Kind Kind
	Path string

	// OldPath is the previous path of a Renamed change.
	OldPath string
}
