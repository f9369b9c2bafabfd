// Package reconcile tracks the baseline - the last snapshot known to
// be durably persisted - and reconciles candidate payloads against it.
//
// Two jobs: computing minimal save payloads as baseline deltas (needed
// after undo/redo replay, when dirty-tracking cannot be trusted), and
// reconciling designated list-valued fields via identity-keyed per-item
// add/remove callbacks with partial-failure collection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/saver"
)

// Handler is a per-field reconciliation descriptor for list-valued
// fields (memberships, tags). Items are keyed by IDOf; additions and
// removals against the baseline list invoke OnAdd/OnRemove instead of
// sending the list through the main transport.
type Handler struct {
	// IDOf extracts the identity key of one list item. Nil defaults to
	// the item's "id" member.
	IDOf func(item record.Value) string

	// OnAdd persists one added item.
	OnAdd func(ctx context.Context, item record.Value) error

	// OnRemove un-persists one removed item.
	OnRemove func(ctx context.Context, item record.Value) error
}

// DefaultIDOf keys an item by its "id" member.
func DefaultIDOf(item record.Value) string {
	obj, ok := item.(record.Object)
	if !ok {
		return record.IDString(item)
	}
	return record.IDString(obj[record.IdentityKey])
}

// Engine owns the baseline snapshot and the registered list handlers.
// All mutable state is private, guarded by one mutex.
type Engine struct {
	mu        sync.Mutex
	baseline  record.Object // nil until initialized
	handlers  map[string]Handler
	hydrating bool
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a reconciliation engine with no baseline.
func New(opts ...Option) *Engine {
	e := &Engine{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler attaches a list handler to a top-level field.
func (e *Engine) RegisterHandler(field string, h Handler) {
	if h.IDOf == nil {
		h.IDOf = DefaultIDOf
	}
	e.mu.Lock()
	e.handlers[field] = h
	e.mu.Unlock()
}

// HandledFields returns the fields with registered handlers, sorted.
func (e *Engine) HandledFields() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	fields := make([]string, 0, len(e.handlers))
	for f := range e.handlers {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// HasBaseline reports whether a baseline exists.
func (e *Engine) HasBaseline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline != nil
}

// EnsureBaseline snapshots current as the baseline if none exists yet.
// Call when the bound data source first reports a clean state. Returns
// true if the baseline was initialized by this call.
func (e *Engine) EnsureBaseline(current record.Object) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.baseline != nil {
		return false
	}
	e.baseline = current.Clone()
	e.logger.Debug("baseline initialized", "fields", len(e.baseline))
	return true
}

// ForceBaseline re-baselines unconditionally (e.g. right after a
// manual full save or hydration).
func (e *Engine) ForceBaseline(current record.Object) {
	e.mu.Lock()
	e.baseline = current.Clone()
	e.logger.Debug("baseline forced", "fields", len(e.baseline))
	e.mu.Unlock()
}

// Baseline returns a copy of the baseline, nil if uninitialized.
func (e *Engine) Baseline() record.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline.Clone()
}

// BeginHydration suppresses baseline reset while server state is being
// replayed into the data source.
func (e *Engine) BeginHydration() {
	e.mu.Lock()
	e.hydrating = true
	e.mu.Unlock()
}

// EndHydration lifts the reset suppression.
func (e *Engine) EndHydration() {
	e.mu.Lock()
	e.hydrating = false
	e.mu.Unlock()
}

// Hydrating reports whether a hydration replay is in progress.
func (e *Engine) Hydrating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hydrating
}

// MaybeReset clears the baseline when dirty-tracking reports a fully
// clean state with zero tracked fields, unless hydration is in
// progress. Returns true if the baseline was cleared.
func (e *Engine) MaybeReset(dirtyFieldCount int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dirtyFieldCount != 0 || e.hydrating || e.baseline == nil {
		return false
	}
	e.baseline = nil
	e.logger.Debug("baseline cleared on clean reset")
	return true
}

// BaselineDelta computes the save payload as the set of top-level
// fields whose current value differs from the baseline value. Fields
// absent from current but present in the baseline appear with a nil
// value. With no baseline every current field is included.
func (e *Engine) BaselineDelta(current record.Object) saver.Payload {
	e.mu.Lock()
	baseline := e.baseline
	e.mu.Unlock()

	payload := saver.Payload{}
	seen := make(map[string]bool, len(current)+len(baseline))
	for f, v := range current {
		seen[f] = true
		if !record.Equal(baseline[f], v) {
			payload[f] = v
		}
	}
	for f := range baseline {
		if !seen[f] {
			payload[f] = nil
		}
	}
	return payload
}

// ListOutcome is the result of one list reconciliation pass.
type ListOutcome struct {
	// Remaining is the payload with every handler field stripped; this
	// is what goes to the main transport.
	Remaining saver.Payload

	// Succeeded maps handler fields whose per-item calls all succeeded
	// to their new list value (pending baseline advance).
	Succeeded map[string]record.Value

	// Failed maps handler fields with at least one failed per-item call
	// to an aggregated error.
	Failed map[string]error
}

// Err returns one combined error enumerating every failed field, nil
// if nothing failed.
func (o ListOutcome) Err() error {
	if len(o.Failed) == 0 {
		return nil
	}
	fields := make([]string, 0, len(o.Failed))
	for f := range o.Failed {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	errs := make([]error, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, o.Failed[f])
	}
	return saver.WrapError(saver.CodeDiffError,
		fmt.Sprintf("list reconciliation failed for %d field(s)", len(fields)),
		errors.Join(errs...))
}

// ReconcileLists strips handler fields out of payload and persists
// their baseline deltas through per-item callbacks.
//
// Within one field, all add/remove calls run concurrently (fan-out,
// fan-in, bounded to this save attempt); errors from one item never
// cancel the others. Handler fields are always removed from the
// remaining payload - they are persisted via side-effect calls, never
// as bulk fields.
func (e *Engine) ReconcileLists(ctx context.Context, payload saver.Payload) ListOutcome {
	e.mu.Lock()
	baseline := e.baseline
	handlers := make(map[string]Handler, len(e.handlers))
	for f, h := range e.handlers {
		handlers[f] = h
	}
	e.mu.Unlock()

	out := ListOutcome{
		Remaining: payload.Clone(),
		Succeeded: make(map[string]record.Value),
		Failed:    make(map[string]error),
	}

	for field, h := range handlers {
		cand, ok := out.Remaining[field]
		if !ok {
			continue
		}
		delete(out.Remaining, field)

		candList, _ := cand.(record.List)
		var baseList record.List
		if bv, ok := baseline[field]; ok {
			baseList, _ = bv.(record.List)
		}

		adds, removes := diffByID(h.IDOf, baseList, candList)
		if errs := e.runItemOps(ctx, h, adds, removes); len(errs) > 0 {
			out.Failed[field] = saver.WrapError(saver.CodeDiffError,
				fmt.Sprintf("field %q: %d of %d item operation(s) failed",
					field, len(errs), len(adds)+len(removes)),
				errors.Join(errs...))
			e.logger.Warn("list reconciliation failed",
				"field", field, "adds", len(adds), "removes", len(removes), "failed", len(errs))
		} else {
			out.Succeeded[field] = cand
			e.logger.Debug("list reconciled",
				"field", field, "adds", len(adds), "removes", len(removes))
		}
	}
	return out
}

// runItemOps fans out one field's add/remove calls and collects every
// error. Panics in callbacks are converted to errors at the boundary.
func (e *Engine) runItemOps(ctx context.Context, h Handler, adds, removes []record.Value) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(op string, fn func(context.Context, record.Value) error, item record.Value) {
		defer wg.Done()
		err := callItemOp(ctx, fn, item)
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s %s: %w", op, h.IDOf(item), err))
			mu.Unlock()
		}
	}
	for _, item := range adds {
		wg.Add(1)
		go run("add", h.OnAdd, item)
	}
	for _, item := range removes {
		wg.Add(1)
		go run("remove", h.OnRemove, item)
	}
	wg.Wait()
	return errs
}

func callItemOp(ctx context.Context, fn func(context.Context, record.Value) error, item record.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item callback panic: %v", r)
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx, item)
}

// diffByID splits candidate-vs-baseline list membership into additions
// and removals, keyed by item identity. Output order is sorted by key
// for determinism.
func diffByID(idOf func(record.Value) string, baseline, candidate record.List) (adds, removes []record.Value) {
	baseByID := make(map[string]record.Value, len(baseline))
	for _, item := range baseline {
		baseByID[idOf(item)] = item
	}
	candByID := make(map[string]record.Value, len(candidate))
	for _, item := range candidate {
		candByID[idOf(item)] = item
	}

	addKeys := make([]string, 0)
	for id := range candByID {
		if _, ok := baseByID[id]; !ok {
			addKeys = append(addKeys, id)
		}
	}
	slices.Sort(addKeys)
	for _, id := range addKeys {
		adds = append(adds, candByID[id])
	}

	removeKeys := make([]string, 0)
	for id := range baseByID {
		if _, ok := candByID[id]; !ok {
			removeKeys = append(removeKeys, id)
		}
	}
	slices.Sort(removeKeys)
	for _, id := range removeKeys {
		removes = append(removes, baseByID[id])
	}
	return adds, removes
}

// AdvanceBaseline merges only the given saved paths into the baseline,
// never wholesale-replacing it: fields untouched by this save retain
// their previously confirmed values. A nil value deletes the field.
func (e *Engine) AdvanceBaseline(saved saver.Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.baseline == nil {
		e.baseline = record.Object{}
	}
	for path, v := range saved {
		e.baseline = record.Set(e.baseline, path, v)
	}
	e.logger.Debug("baseline advanced", "fields", len(saved))
}
