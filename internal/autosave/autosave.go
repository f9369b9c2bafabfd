// Package autosave wires the structural diff, history engine, save
// queue, and reconciliation engine into one coordinator over a bound
// data source.
//
// Data flow: edits observed from the source become patches, patches
// become history entries and queued payload deltas, the queue debounces
// them into single-flight transport calls, and each transport call runs
// the full pipeline - validation, list-field reconciliation, the main
// save - before the baseline advances and a checkpoint is marked.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/scribe/internal/diff"
	"github.com/roach88/scribe/internal/history"
	"github.com/roach88/scribe/internal/journal"
	"github.com/roach88/scribe/internal/reconcile"
	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/saver"
	"github.com/roach88/scribe/internal/validate"
)

// Source is the bound data source that owns field values and
// dirty-tracking. The core never mutates it except through WriteField.
type Source interface {
	// Snapshot returns all current field values.
	Snapshot() record.Object

	// DirtyFields returns the set of root fields with unsaved edits.
	DirtyFields() map[string]bool

	// WriteField sets one field value and marks it edited.
	WriteField(path string, v record.Value)

	// Validate checks the named root fields, reporting overall validity.
	Validate(ctx context.Context, fields []string) (bool, error)
}

// Controller coordinates autosave for one record bound to one source.
//
// All shared mutable state (current snapshot, replay origin) is private
// and guarded by one mutex; the engines it owns guard their own.
type Controller struct {
	mu       sync.Mutex
	lastSnap record.Object
	origin   history.Origin

	source       Source
	queue        *saver.Queue
	hist         *history.Engine
	rec          *reconcile.Engine
	cache        *validate.Cache
	jrnl         *journal.Journal
	saveOnReplay bool
	logger       *slog.Logger

	queueOpts []saver.Option
	histOpts  []history.Option
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger, shared with the engines it
// constructs unless they get their own.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithJournal attaches a durable save-attempt journal. Journal errors
// are logged, never surfaced as save failures.
func WithJournal(j *journal.Journal) Option {
	return func(c *Controller) { c.jrnl = j }
}

// WithSaveOnReplay controls whether undo/redo themselves trigger a
// save. Default: true.
func WithSaveOnReplay(on bool) Option {
	return func(c *Controller) { c.saveOnReplay = on }
}

// WithValidationCache attaches a validation result cache.
func WithValidationCache(cache *validate.Cache) Option {
	return func(c *Controller) { c.cache = cache }
}

// WithQueueOptions forwards options to the save queue the controller
// constructs.
func WithQueueOptions(opts ...saver.Option) Option {
	return func(c *Controller) { c.queueOpts = append(c.queueOpts, opts...) }
}

// WithHistoryOptions forwards options to the history engine the
// controller constructs.
func WithHistoryOptions(opts ...history.Option) Option {
	return func(c *Controller) { c.histOpts = append(c.histOpts, opts...) }
}

// New creates a controller over source, saving through transport.
func New(source Source, transport saver.Transport, opts ...Option) *Controller {
	c := &Controller{
		source:       source,
		origin:       history.OriginUser,
		saveOnReplay: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.rec = reconcile.New(reconcile.WithLogger(c.logger))
	c.hist = history.New(c.writeField, c.readField,
		append([]history.Option{history.WithLogger(c.logger)}, c.histOpts...)...)
	c.queue = saver.New(c.pipeline(transport),
		append([]saver.Option{saver.WithLogger(c.logger)}, c.queueOpts...)...)

	c.lastSnap = source.Snapshot().Clone()
	return c
}

// RegisterHandler attaches a list-field reconciliation handler.
func (c *Controller) RegisterHandler(field string, h reconcile.Handler) {
	c.rec.RegisterHandler(field, h)
}

// writeField is the history engine's writer callback.
func (c *Controller) writeField(path string, v record.Value, origin history.Origin) {
	c.source.WriteField(path, v)
}

// readField is the history engine's live-value reader.
func (c *Controller) readField(path string) record.Value {
	v, ok := record.Get(c.source.Snapshot(), path)
	if !ok {
		return nil
	}
	return v
}

// ObserveEdit diffs the source against the last observed snapshot,
// records the result as one atomic history entry, and queues the
// changed paths for saving. Call after every edit event from the
// binding layer.
//
// While a replay (undo/redo/hydration) is in progress the diff is
// observed but not recorded and not queued: replays must not re-enter
// the recording pipeline, and their save payloads are computed against
// the baseline instead.
func (c *Controller) ObserveEdit() {
	c.mu.Lock()
	prev := c.lastSnap
	cur := c.source.Snapshot().Clone()
	c.lastSnap = cur
	origin := c.origin
	c.mu.Unlock()

	patches := diff.Diff(prev, cur, "")
	if len(patches) == 0 {
		return
	}
	if origin != history.OriginUser {
		c.logger.Debug("replay edit observed, not recorded", "origin", origin.String(), "patches", len(patches))
		return
	}

	// A new user edit invalidates redo lineage; replay never does.
	if c.hist.CanRedo() {
		c.hist.InvalidateRedo()
	}
	c.hist.Record(history.Entry(patches))

	delta := saver.Payload{}
	for _, p := range patches {
		delta[p.Path] = p.Next
	}
	c.queue.QueueChange(delta)
}

// ObserveClean snapshots the source as the baseline if none exists
// yet. Call when the source first reports no unsaved edits.
func (c *Controller) ObserveClean() {
	if len(c.source.DirtyFields()) != 0 {
		return
	}
	c.rec.EnsureBaseline(c.source.Snapshot())
}

// Undo reverts the most recent edit and, unless suppressed, queues a
// baseline-delta save of the replayed state.
func (c *Controller) Undo() bool {
	c.setOrigin(history.OriginUndo)
	ok := c.hist.Undo()
	c.setOrigin(history.OriginUser)
	if !ok {
		return false
	}
	c.afterReplay()
	return true
}

// Redo reapplies the most recently undone edit.
func (c *Controller) Redo() bool {
	c.setOrigin(history.OriginRedo)
	ok := c.hist.Redo()
	c.setOrigin(history.OriginUser)
	if !ok {
		return false
	}
	c.afterReplay()
	return true
}

// UndoToLastCheckpoint rolls the record back to the last confirmed
// save. Returns the number of entries undone.
func (c *Controller) UndoToLastCheckpoint() int {
	c.setOrigin(history.OriginUndo)
	n := c.hist.UndoToLastCheckpoint()
	c.setOrigin(history.OriginUser)
	if n > 0 {
		c.afterReplay()
	}
	return n
}

// afterReplay refreshes the observed snapshot and queues the baseline
// delta of the replayed state. Dirty-tracking cannot be trusted after
// programmatic writes, so the payload is a direct baseline-vs-current
// comparison.
func (c *Controller) afterReplay() {
	c.mu.Lock()
	c.lastSnap = c.source.Snapshot().Clone()
	cur := c.lastSnap
	c.mu.Unlock()

	if !c.saveOnReplay {
		return
	}
	payload := c.rec.BaselineDelta(cur)

	// A pending payload queued before the replay may carry values the
	// user just replayed away; override every pending path with its
	// live value so the next flush saves the replayed state.
	for path := range c.queue.Pending() {
		if _, ok := payload[record.RootField(path)]; ok {
			continue
		}
		if v, ok := record.Get(cur, path); ok {
			payload[path] = v
		} else {
			payload[path] = nil
		}
	}
	if len(payload) > 0 {
		c.queue.QueueChange(payload)
	}
}

// Hydrate replaces the record with server state: every field is
// written under the hydrate origin (recorded by nothing), history is
// cleared, and the baseline is forced to the hydrated values. Baseline
// reset is suppressed for the duration.
func (c *Controller) Hydrate(values record.Object) {
	c.queue.Abort()
	c.rec.BeginHydration()
	c.setOrigin(history.OriginHydrate)

	for _, field := range values.SortedKeys() {
		c.source.WriteField(field, values[field])
	}
	c.hist.Clear()
	c.rec.ForceBaseline(c.source.Snapshot())

	c.mu.Lock()
	c.lastSnap = c.source.Snapshot().Clone()
	c.mu.Unlock()

	c.setOrigin(history.OriginUser)
	c.rec.EndHydration()
	c.logger.Info("record hydrated", "fields", len(values))
}

// Reset aborts pending work and clears history; the baseline is
// cleared only if the source is fully clean (and never mid-hydration).
func (c *Controller) Reset() {
	c.queue.Abort()
	c.hist.Clear()
	c.rec.MaybeReset(len(c.source.DirtyFields()))
	c.mu.Lock()
	c.lastSnap = c.source.Snapshot().Clone()
	c.mu.Unlock()
}

// Flush saves the pending payload now. The explicit retry affordance:
// callers re-invoke Flush after a failure.
func (c *Controller) Flush(ctx context.Context) saver.Result {
	return c.queue.Flush(ctx)
}

// Abort drops pending changes and cancels any inflight save.
func (c *Controller) Abort() {
	c.queue.Abort()
}

// setOrigin marks the current write origin for replay isolation.
func (c *Controller) setOrigin(o history.Origin) {
	c.mu.Lock()
	c.origin = o
	c.mu.Unlock()
}

// CanUndo reports whether undo history exists.
func (c *Controller) CanUndo() bool { return c.hist.CanUndo() }

// CanRedo reports whether redo history exists.
func (c *Controller) CanRedo() bool { return c.hist.CanRedo() }

// Subscribe registers an observer of history changes.
func (c *Controller) Subscribe(fn func()) func() { return c.hist.Subscribe(fn) }

// IsSaving reports whether a transport call is in flight.
func (c *Controller) IsSaving() bool { return c.queue.IsSaving() }

// LastError returns the most recent save error, nil after success.
func (c *Controller) LastError() error { return c.queue.LastError() }

// Pending returns a copy of the queued-but-unsaved payload.
func (c *Controller) Pending() saver.Payload { return c.queue.Pending() }

// Baseline returns a copy of the last-confirmed-persisted snapshot.
func (c *Controller) Baseline() record.Object { return c.rec.Baseline() }

// Metrics returns the save queue's counters.
func (c *Controller) Metrics() saver.MetricsSnapshot { return c.queue.Metrics() }

// pipeline wraps the injected transport with the full save pipeline:
// validation (with caching), list-field reconciliation, the main
// transport call, then baseline advance and checkpoint marking.
func (c *Controller) pipeline(inner saver.Transport) saver.Transport {
	return func(ctx context.Context, payload saver.Payload, sc *saver.SaveContext) saver.Result {
		if res, ok := c.validatePayload(ctx, payload); !ok {
			c.journalAttempt(sc, payload, res)
			return res
		}

		out := c.rec.ReconcileLists(ctx, payload)

		var res saver.Result
		if len(out.Remaining) > 0 {
			res = inner(ctx, out.Remaining, sc)
		} else {
			res = saver.Success()
		}

		// Failure-prioritizing combination: any per-item failure makes
		// the overall result a failure even when the main call succeeded.
		overall := res
		if listErr := out.Err(); listErr != nil {
			if res.OK {
				overall = saver.Failure(saver.CodeDiffError, listErr)
			} else {
				overall = saver.Failure(res.Code, errors.Join(res.Err, listErr))
			}
		}

		if overall.OK {
			c.rec.AdvanceBaseline(payload)
			c.hist.MarkCheckpoint()
		} else {
			if res.OK {
				// Main fields persisted even though a list field failed:
				// their baseline advances and they must not be requeued.
				c.rec.AdvanceBaseline(out.Remaining)
				for f := range out.Remaining {
					delete(payload, f)
				}
			}
			// Succeeded list fields' per-item calls already happened and
			// are not replayed; only their baseline advance is withheld
			// until a fully successful cycle confirms them. Failed list
			// fields stay in the payload, so the queue requeues them.
			for f := range out.Succeeded {
				delete(payload, f)
			}
		}

		c.journalAttempt(sc, payload, overall)
		return overall
	}
}

// validatePayload runs the pre-save validation pass against the
// source, consulting the cache first when one is attached.
func (c *Controller) validatePayload(ctx context.Context, payload saver.Payload) (saver.Result, bool) {
	fields := rootFields(payload)
	if len(fields) == 0 {
		return saver.Success(), true
	}

	var sig string
	if c.cache != nil {
		s, err := validate.Signature(payload)
		if err == nil {
			sig = s
			if valid, ok := c.cache.Get(sig); ok {
				c.queue.AddCacheHit()
				if !valid {
					return saver.Failure(saver.CodeValidationFailed,
						saver.NewError(saver.CodeValidationFailed, "payload failed validation (cached)")), false
				}
				return saver.Success(), true
			}
			c.queue.AddCacheMiss()
		}
	}

	valid, err := c.source.Validate(ctx, fields)
	if err != nil {
		return saver.Failure(saver.CodeValidationFailed,
			saver.WrapError(saver.CodeValidationFailed, "validation pass failed", err)), false
	}
	if sig != "" {
		c.cache.Put(sig, valid)
	}
	if !valid {
		return saver.Failure(saver.CodeValidationFailed,
			saver.NewError(saver.CodeValidationFailed, "payload failed validation")), false
	}
	return saver.Success(), true
}

// journalAttempt records one settled attempt; errors are logged only.
func (c *Controller) journalAttempt(sc *saver.SaveContext, payload saver.Payload, res saver.Result) {
	if c.jrnl == nil {
		return
	}
	att := &journal.Attempt{
		Token:      sc.Token,
		At:         sc.Timestamp,
		RetryCount: sc.RetryCount,
		Payload:    payloadObject(payload),
		Status:     journal.StatusFailed,
	}
	if res.OK {
		att.Status = journal.StatusOK
	} else {
		att.Code = string(res.Code)
		if res.Err != nil {
			att.Error = res.Err.Error()
		}
	}
	ctx := context.Background()
	if err := c.jrnl.RecordAttempt(ctx, att); err != nil {
		c.logger.Error("journal write failed", "token", sc.Token, "error", err)
		return
	}
	if res.OK {
		base := c.rec.Baseline()
		for _, field := range rootFields(payload) {
			if err := c.jrnl.PutBaseline(ctx, field, base[field], att.Seq); err != nil {
				c.logger.Error("journal baseline write failed", "field", field, "error", err)
			}
		}
	}
}

// rootFields returns the sorted distinct root fields of a payload.
func rootFields(payload saver.Payload) []string {
	set := make(map[string]bool, len(payload))
	for path := range payload {
		set[record.RootField(path)] = true
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// payloadObject renders a payload as a record object for journaling.
// Dotted paths become nested objects.
func payloadObject(payload saver.Payload) record.Object {
	obj := record.Object{}
	for path, v := range payload {
		obj = record.Set(obj, path, v)
	}
	return obj
}
