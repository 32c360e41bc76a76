package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

// renamePairWindow is how long a rename waits for the matching create
// before it is reported as a removal.
const renamePairWindow = 100 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Name labels log output, e.g. "source" or "cache".
	Name string

	// Root is the directory to watch.
	Root string

	// Recursive watches every subdirectory, including ones created later.
	Recursive bool

	// Ops selects which notifications are reported. Zero means all of
	// Create, Write, Remove and Rename.
	Ops fsnotify.Op

	// Match selects which files are reported. Nil reports every file.
	Match func(path string) bool

	// Events is the capacity of the notification queue between the OS and
	// Run. Zero uses DefaultEvents.
	Events int

	// ReadBuffer is the per-directory read buffer in bytes on platforms that
	// allow sizing it (Windows). Zero uses DefaultReadBuffer. Linux and BSD
	// queue sizes are kernel settings.
	ReadBuffer int
}

// Defaults sized for bursts such as a mod manager rewriting a whole tree.
const (
	DefaultEvents     = 4096
	DefaultReadBuffer = 4 << 20
)

// Watcher reports changes below one root as Changes.
type Watcher struct {
	opts    Options
	watcher *fsnotify.Watcher
	paths   map[string]bool
	mu      sync.RWMutex
	closed  bool
	log     *logging.Logger

	// pendingRename is the old path of a rename awaiting its create.
	pendingRename string
}

// New creates a Watcher. Call Watch to start observing the root.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, errors.New("watcher: root is required")
	}
	if opts.Ops == 0 {
		opts.Ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	}

	if opts.Events <= 0 {
		opts.Events = DefaultEvents
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = DefaultReadBuffer
	}

	fsw, err := fsnotify.NewBufferedWatcher(uint(opts.Events))
	if err != nil {
		return nil, err
	}

	return &Watcher{
		opts:    opts,
		watcher: fsw,
		paths:   make(map[string]bool),
		log:     logging.Get("watcher").With("tree", opts.Name),
	}, nil
}

// Root returns the watched root.
func (w *Watcher) Root() string {
	return w.opts.Root
}

// Watch adds the root, and when recursive every directory below it.
// Symlinks are not followed.
func (w *Watcher) Watch() error {
	info, err := os.Lstat(w.opts.Root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("watcher: root is not a directory")
	}

	if err := w.addWatch(w.opts.Root); err != nil {
		return err
	}
	if !w.opts.Recursive {
		return nil
	}
	return w.addTree(w.opts.Root, nil)
}

// addTree watches every directory below dir. When found is non-nil it is
// called for each matching file, so files that appeared before their
// directory was watched are not missed.
func (w *Watcher) addTree(dir string, found func(path string)) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if path != dir {
				_ = w.addWatch(path)
			}
			return nil
		}
		if found != nil && d.Type().IsRegular() && w.match(path) {
			found(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.AddWith(path, fsnotify.WithBufferSize(w.opts.ReadBuffer)); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// unwatch drops the watch on path and every directory below it and reports
// whether path itself was a watched directory.
func (w *Watcher) unwatch(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	was := w.paths[path]
	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
	return was
}

// Watched returns the number of directories under watch.
func (w *Watcher) Watched() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.paths)
}

// Run forwards changes to out until ctx is cancelled or the watcher is
// closed. Sends block while out is full.
func (w *Watcher) Run(ctx context.Context, out chan<- Change) {
	pairTimer := time.NewTimer(renamePairWindow)
	pairTimer.Stop()
	defer pairTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event, out, pairTimer)

		case <-pairTimer.C:
			w.flushRename(ctx, out)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("event queue overflowed, changes were lost", "root", w.opts.Root)
				continue
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, out chan<- Change, pairTimer *time.Timer) {
	if event.Op&w.opts.Ops == 0 {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		if old := w.pendingRename; old != "" {
			w.pendingRename = ""
			pairTimer.Stop()
			w.handleCreate(ctx, event.Name, old, out)
			return
		}
		w.handleCreate(ctx, event.Name, "", out)

	case event.Op.Has(fsnotify.Write):
		w.flushRename(ctx, out)
		if w.match(event.Name) {
			w.send(ctx, out, Change{Kind: Changed, Path: event.Name})
		}

	case event.Op.Has(fsnotify.Remove):
		w.flushRename(ctx, out)
		w.handleRemove(ctx, event.Name, out)

	case event.Op.Has(fsnotify.Rename):
		w.flushRename(ctx, out)
		if w.opts.Ops.Has(fsnotify.Create) {
			w.pendingRename = event.Name
			pairTimer.Reset(renamePairWindow)
			return
		}
		w.handleRemove(ctx, event.Name, out)
	}
}

// handleCreate reports a new file, or watches a new directory and reports
// the files already inside it. A non-empty oldPath turns the report into a
// rename.
func (w *Watcher) handleCreate(ctx context.Context, path, oldPath string, out chan<- Change) {
	info, err := os.Lstat(path)
	if err != nil {
		if oldPath != "" {
			w.handleRemove(ctx, oldPath, out)
		}
		return
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return
	}

	if info.IsDir() {
		if oldPath != "" {
			w.unwatch(oldPath)
			w.send(ctx, out, Change{Kind: Renamed, Path: path, OldPath: oldPath})
		}
		if !w.opts.Recursive {
			return
		}
		_ = w.addWatch(path)
		_ = w.addTree(path, func(p string) {
			w.send(ctx, out, Change{Kind: Created, Path: p})
		})
		return
	}

	switch {
	case oldPath != "" && w.match(path):
		w.send(ctx, out, Change{Kind: Renamed, Path: path, OldPath: oldPath})
	case oldPath != "":
		w.handleRemove(ctx, oldPath, out)
	case w.match(path):
		w.send(ctx, out, Change{Kind: Created, Path: path})
	}
}

// handleRemove reports a removed file, or a removed watched directory so
// everything indexed below it can be forgotten.
func (w *Watcher) handleRemove(ctx context.Context, path string, out chan<- Change) {
	if w.unwatch(path) || w.match(path) {
		w.send(ctx, out, Change{Kind: Removed, Path: path})
	}
}

// flushRename reports an unpaired rename as a removal.
func (w *Watcher) flushRename(ctx context.Context, out chan<- Change) {
	if old := w.pendingRename; old != "" {
		w.pendingRename = ""
		w.handleRemove(ctx, old, out)
	}
}

func (w *Watcher) send(ctx context.Context, out chan<- Change, c Change) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

func (w *Watcher) match(path string) bool {
	return w.opts.Match == nil || w.opts.Match(path)
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
