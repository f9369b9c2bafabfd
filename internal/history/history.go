// Package history implements patch-based undo/redo over record edits.
//
// The engine owns the past/future stacks and the save-point checkpoint
// markers. It applies values through an injected writer callback and
// reads live values through an injected reader, so it never touches the
// bound data source directly.
package history

import (
	"log/slog"
	"sync"

	"github.com/roach88/scribe/internal/diff"
	"github.com/roach88/scribe/internal/record"
)

// Origin tags a field write with the operation that caused it, so the
// surrounding system can tell replay apart from new user edits and
// decide whether the write should re-enter the recording pipeline.
type Origin int

const (
	// OriginUser is a new user-originated edit.
	OriginUser Origin = iota + 1
	// OriginUndo is a write applied while undoing.
	OriginUndo
	// OriginRedo is a write applied while redoing.
	OriginRedo
	// OriginHydrate is a write applied while replaying server state.
	OriginHydrate
)

// String returns the origin name for logging.
func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginUndo:
		return "undo"
	case OriginRedo:
		return "redo"
	case OriginHydrate:
		return "hydrate"
	default:
		return "unknown"
	}
}

// Entry is one atomic group of patches from a single edit event.
// Stored entries are never mutated in place.
type Entry []diff.Patch

// Writer applies one field value to the bound data source.
type Writer func(path string, v record.Value, origin Origin)

// Reader returns the current live value at a path, nil if absent.
type Reader func(path string) record.Value

// DefaultCapacity bounds the past stack when no option overrides it.
const DefaultCapacity = 100

// Engine owns the undo/redo stacks and checkpoint bookkeeping.
//
// All mutable state is private and guarded by one mutex; mutation
// happens only through the documented operations.
type Engine struct {
	mu          sync.Mutex
	past        []Entry
	future      []Entry
	checkpoints []int
	capacity    int
	write       Writer
	read        Reader
	observers   map[int]func()
	nextObs     int
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapacity bounds the past stack. Zero or negative means unbounded.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		e.capacity = n
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates a history engine writing through write and reading live
// values through read.
func New(write Writer, read Reader, opts ...Option) *Engine {
	e := &Engine{
		write:     write,
		read:      read,
		capacity:  DefaultCapacity,
		observers: make(map[int]func()),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record appends one entry to the past stack. Empty entries are a
// no-op. Eviction keeps checkpoint indices consistent.
//
// Record never clears the future stack itself: the caller invalidates
// redo explicitly (InvalidateRedo) exactly when a user-originated edit
// arrives while future is non-empty. Programmatic replay records
// nothing, so redo lineage survives it.
func (e *Engine) Record(entry Entry) {
	if len(entry) == 0 {
		return
	}
	e.mu.Lock()
	e.appendPast(entry)
	e.mu.Unlock()
	e.notify()
}

// InvalidateRedo clears the future stack. Call before recording a new
// user-originated entry while redo history exists.
func (e *Engine) InvalidateRedo() {
	e.mu.Lock()
	changed := len(e.future) > 0
	e.future = nil
	e.mu.Unlock()
	if changed {
		e.notify()
	}
}

// Undo reverts the most recent entry. Returns false when there is
// nothing to undo.
//
// The inverse entry pushed onto future captures the current live value
// at each affected path as the value to restore on redo, so redo stays
// correct even if unrelated edits happened since the entry was
// recorded.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	ok := e.undoLocked()
	e.mu.Unlock()
	if ok {
		e.notify()
	}
	return ok
}

func (e *Engine) undoLocked() bool {
	if len(e.past) == 0 {
		return false
	}
	entry := e.past[len(e.past)-1]
	e.past = e.past[:len(e.past)-1]

	inverse := make(Entry, len(entry))
	for i, p := range entry {
		inverse[i] = diff.Patch{
			Path:      p.Path,
			Prev:      p.Prev,
			Next:      e.read(p.Path),
			RootField: p.RootField,
		}
	}
	e.future = append(e.future, inverse)

	for _, p := range entry {
		e.write(p.Path, p.Prev, OriginUndo)
	}
	e.logger.Debug("undo applied", "patches", len(entry), "past", len(e.past), "future", len(e.future))
	return true
}

// Redo reapplies the most recently undone entry. Returns false when
// there is nothing to redo.
func (e *Engine) Redo() bool {
	e.mu.Lock()
	if len(e.future) == 0 {
		e.mu.Unlock()
		return false
	}
	entry := e.future[len(e.future)-1]
	e.future = e.future[:len(e.future)-1]

	inverse := make(Entry, len(entry))
	for i, p := range entry {
		inverse[i] = diff.Patch{
			Path:      p.Path,
			Prev:      e.read(p.Path),
			Next:      p.Next,
			RootField: p.RootField,
		}
	}
	e.appendPast(inverse)

	for _, p := range entry {
		e.write(p.Path, p.Next, OriginRedo)
	}
	e.logger.Debug("redo applied", "patches", len(entry), "past", len(e.past), "future", len(e.future))
	e.mu.Unlock()
	e.notify()
	return true
}

// CanUndo reports whether the past stack is non-empty.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.past) > 0
}

// CanRedo reports whether the future stack is non-empty.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.future) > 0
}

// MarkCheckpoint records the current past depth as a confirmed-save
// marker. Call exactly once per confirmed successful save.
func (e *Engine) MarkCheckpoint() {
	e.mu.Lock()
	e.checkpoints = append(e.checkpoints, len(e.past))
	e.logger.Debug("checkpoint marked", "depth", len(e.past))
	e.mu.Unlock()
}

// UndoToLastCheckpoint undoes every entry recorded after the most
// recent checkpoint, or everything if no checkpoint exists. Returns the
// number of entries undone.
func (e *Engine) UndoToLastCheckpoint() int {
	e.mu.Lock()
	// Checkpoints deeper than the current stack are stale (the entries
	// they pointed at were already undone); discard them.
	target := 0
	for len(e.checkpoints) > 0 {
		last := e.checkpoints[len(e.checkpoints)-1]
		e.checkpoints = e.checkpoints[:len(e.checkpoints)-1]
		if last <= len(e.past) {
			target = last
			break
		}
	}

	undone := 0
	for len(e.past) > target {
		if !e.undoLocked() {
			break
		}
		undone++
	}
	e.mu.Unlock()
	if undone > 0 {
		e.notify()
	}
	return undone
}

// Clear empties both stacks and all checkpoints. Used on full
// hydration or reset.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.past = nil
	e.future = nil
	e.checkpoints = nil
	e.mu.Unlock()
	e.notify()
}

// Depth returns the current past and future stack depths.
func (e *Engine) Depth() (past, future int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.past), len(e.future)
}

// Subscribe registers an observer invoked after every stack change, so
// a presentation layer can refresh undo/redo affordances without
// polling. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func()) func() {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// appendPast pushes an entry, evicting the oldest entries past
// capacity and shifting checkpoint indices down to match. Checkpoints
// that fall below zero are dropped. Caller holds the mutex.
func (e *Engine) appendPast(entry Entry) {
	e.past = append(e.past, entry)
	if e.capacity <= 0 || len(e.past) <= e.capacity {
		return
	}

	n := len(e.past) - e.capacity
	e.past = append(e.past[:0:0], e.past[n:]...)

	kept := e.checkpoints[:0]
	for _, c := range e.checkpoints {
		c -= n
		if c >= 0 {
			kept = append(kept, c)
		}
	}
	e.checkpoints = kept
	e.logger.Debug("history evicted", "entries", n, "capacity", e.capacity)
}

// notify invokes observers outside the engine mutex.
func (e *Engine) notify() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
