// Package harness executes scripted edit-session scenarios against a
// real controller with an in-memory source and a scripted transport,
// producing deterministic traces for golden-file comparison.
package harness

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/scribe/internal/autosave"
	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/saver"
	"github.com/roach88/scribe/internal/testutil"
)

// TraceEvent is one observable session event.
type TraceEvent struct {
	// Type is "edit", "undo", "redo", "undo_to_checkpoint", "hydrate",
	// or "flush".
	Type string

	// Seq is the 1-based event position.
	Seq int

	// Path and Value describe edit events.
	Path  string
	Value record.Value

	// Applied reports whether a replay event changed anything.
	Applied bool

	// Token, Payload, Status, and Code describe flush events.
	Token   string
	Payload record.Object
	Status  string
	Code    string
}

// Result is a completed session: the trace plus the final record and
// baseline states.
type Result struct {
	Trace    []TraceEvent
	Final    record.Object
	Baseline record.Object
}

// MemorySource is an in-memory autosave.Source for scripted sessions.
type MemorySource struct {
	mu      sync.Mutex
	fields  record.Object
	dirty   map[string]bool
	invalid map[string]bool
}

// NewMemorySource creates a source holding the given fields.
func NewMemorySource(fields record.Object) *MemorySource {
	return &MemorySource{
		fields:  fields.Clone(),
		dirty:   make(map[string]bool),
		invalid: make(map[string]bool),
	}
}

// MarkInvalid makes validation fail whenever the field is checked.
func (s *MemorySource) MarkInvalid(field string) {
	s.mu.Lock()
	s.invalid[field] = true
	s.mu.Unlock()
}

func (s *MemorySource) Snapshot() record.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields.Clone()
}

func (s *MemorySource) DirtyFields() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.dirty))
	for k, v := range s.dirty {
		out[k] = v
	}
	return out
}

func (s *MemorySource) WriteField(path string, v record.Value) {
	s.mu.Lock()
	s.fields = record.Set(s.fields, path, v)
	s.dirty[record.RootField(path)] = true
	s.mu.Unlock()
}

func (s *MemorySource) Validate(_ context.Context, fields []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		if s.invalid[f] {
			return false, nil
		}
	}
	return true, nil
}

// scriptedTransport records calls and fails when armed.
type scriptedTransport struct {
	mu        sync.Mutex
	failNext  bool
	last      saver.Payload
	lastToken string
	lastSet   bool
}

func (t *scriptedTransport) arm(fail bool) {
	t.mu.Lock()
	t.failNext = fail
	t.lastSet = false
	t.mu.Unlock()
}

func (t *scriptedTransport) transport(_ context.Context, payload saver.Payload, sc *saver.SaveContext) saver.Result {
	t.mu.Lock()
	t.last = payload.Clone()
	t.lastToken = sc.Token
	t.lastSet = true
	fail := t.failNext
	t.mu.Unlock()
	if fail {
		return saver.Failure(saver.CodeTransportError, saver.NewError(saver.CodeTransportError, "scripted failure"))
	}
	return saver.Success()
}

func (t *scriptedTransport) lastCall() (saver.Payload, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.lastToken, t.lastSet
}

// Run executes a scenario and returns its trace and final states.
//
// Flushes are explicit (the debounce window is effectively infinite)
// and attempt tokens come from a fixed generator, so two runs of the
// same scenario produce byte-identical traces.
func Run(scenario *Scenario) (*Result, error) {
	initial, err := record.ObjectFromGo(scenario.Initial)
	if err != nil {
		return nil, fmt.Errorf("initial values: %w", err)
	}

	src := NewMemorySource(initial)
	for _, f := range scenario.InvalidFields {
		src.MarkInvalid(f)
	}

	tr := &scriptedTransport{}
	ctrl := autosave.New(src, tr.transport,
		autosave.WithQueueOptions(
			saver.WithDebounce(24*time.Hour),
			saver.WithTokenGenerator(testutil.NewFixedTokens()),
		),
	)
	ctrl.ObserveClean()

	var trace []TraceEvent
	emit := func(ev TraceEvent) {
		ev.Seq = len(trace) + 1
		trace = append(trace, ev)
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		switch {
		case step.Edit != nil:
			v, err := record.FromGo(step.Edit.Value)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].edit value: %w", i, err)
			}
			src.WriteField(step.Edit.Path, v)
			ctrl.ObserveEdit()
			emit(TraceEvent{Type: "edit", Path: step.Edit.Path, Value: v})

		case step.Undo:
			emit(TraceEvent{Type: "undo", Applied: ctrl.Undo()})

		case step.Redo:
			emit(TraceEvent{Type: "redo", Applied: ctrl.Redo()})

		case step.UndoToCheckpoint:
			emit(TraceEvent{Type: "undo_to_checkpoint", Applied: ctrl.UndoToLastCheckpoint() > 0})

		case step.Flush != nil:
			tr.arm(step.Flush.Fail)
			res := ctrl.Flush(ctx)
			ev := TraceEvent{Type: "flush", Status: "ok"}
			if !res.OK {
				ev.Status = "failed"
				ev.Code = string(res.Code)
			}
			if payload, token, called := tr.lastCall(); called {
				ev.Payload = payloadObject(payload)
				ev.Token = token
			} else {
				ev.Payload = record.Object{}
			}
			emit(ev)

		case step.Hydrate != nil:
			values, err := record.ObjectFromGo(step.Hydrate)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].hydrate values: %w", i, err)
			}
			ctrl.Hydrate(values)
			emit(TraceEvent{Type: "hydrate", Payload: values})
		}
	}

	return &Result{
		Trace:    trace,
		Final:    src.Snapshot(),
		Baseline: ctrl.Baseline(),
	}, nil
}

// payloadObject renders a payload as a nested object, dotted paths
// expanded, sorted deterministically at serialization time.
func payloadObject(payload saver.Payload) record.Object {
	obj := record.Object{}
	for _, path := range sortedPaths(payload) {
		obj = record.Set(obj, path, payload[path])
	}
	return obj
}

func sortedPaths(payload saver.Payload) []string {
	paths := make([]string, 0, len(payload))
	for p := range payload {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
