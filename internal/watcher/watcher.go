// Package watcher reports changes to value documents, so long-running
// consumers can reload or revalidate without polling.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is a bitmask of observed operations.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
)

// Has reports whether op contains o.
func (op Op) Has(o Op) bool { return op&o != 0 }

func (op Op) String() string {
	var parts []string
	if op.Has(Create) {
		parts = append(parts, "create")
	}
	if op.Has(Write) {
		parts = append(parts, "write")
	}
	if op.Has(Remove) {
		parts = append(parts, "remove")
	}
	if op.Has(Rename) {
		parts = append(parts, "rename")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one observed change to a watched file.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Config controls watcher behavior.
type Config struct {
	// BufferSize is the event channel capacity. Events arriving at a
	// full buffer are dropped rather than blocking the watch loop.
	BufferSize int

	// Debounce coalesces bursts of changes to the same path into one
	// event. Zero delivers every change immediately.
	Debounce time.Duration
}

// DefaultConfig returns the settings used when no options are given.
func DefaultConfig() Config {
	return Config{BufferSize: 64, Debounce: 250 * time.Millisecond}
}

// Option adjusts one Config setting.
type Option func(*Config)

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithDebounce sets the coalescing delay. Zero disables debouncing.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) { c.Debounce = d }
}

// Watcher watches individual files through their parent directories,
// so a file replaced by the rename-and-swap dance editors perform on
// save stays watched.
type Watcher struct {
	fs     *fsnotify.Watcher
	events chan Event
	errors chan error

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]int

	debounce *debouncer

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New creates a watcher. Callers must Close it.
func New(opts ...Option) (*Watcher, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fs,
		events:  make(chan Event, cfg.BufferSize),
		errors:  make(chan error, 1),
		files:   map[string]bool{},
		dirs:    map[string]int{},
		closeCh: make(chan struct{}),
	}
	if cfg.Debounce > 0 {
		w.debounce = newDebouncer(cfg.Debounce, w.send)
	}
	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Add starts watching the file at path. The parent directory carries
// the watch, so the file may not exist yet.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[abs] {
		return nil
	}
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = true
	return nil
}

// Remove stops watching the file at path.
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[abs] {
		return nil
	}
	delete(w.files, abs)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		return w.fs.Remove(dir)
	}
	return nil
}

// Events returns the channel change notifications arrive on. The
// channel is never closed; Close stops delivery.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel watch errors arrive on.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Flush delivers coalesced events immediately instead of waiting out
// the debounce delay.
func (w *Watcher) Flush() {
	if w.debounce != nil {
		w.debounce.flush()
	}
}

// Close stops watching and releases the underlying notifier.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.fs.Close()
		w.wg.Wait()
		if w.debounce != nil {
			w.debounce.stopAll()
		}
	})
	return err
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			op := mapOp(ev.Op)
			if op == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)
			if !w.watched(path) {
				continue
			}
			e := Event{Path: path, Op: op, Time: time.Now()}
			if w.debounce != nil {
				w.debounce.observe(e)
			} else {
				w.send(e)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path]
}

func (w *Watcher) send(e Event) {
	select {
	case w.events <- e:
	default:
	}
}

func mapOp(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= Create
	}
	if op.Has(fsnotify.Write) {
		out |= Write
	}
	if op.Has(fsnotify.Remove) {
		out |= Remove
	}
	if op.Has(fsnotify.Rename) {
		out |= Rename
	}
	return out
}
