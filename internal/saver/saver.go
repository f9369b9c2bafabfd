// Package saver implements the debounced, single-flight save queue.
//
// The queue owns one pending-payload accumulator. Bursts of queued
// changes coalesce into a single transport call; at most one call is in
// flight at any time, and a failed attempt's payload is re-merged under
// whatever queued up meanwhile, never dropped.
package saver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/scribe/internal/record"
)

// Payload maps dotted field paths to the values queued for saving.
type Payload map[string]record.Value

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SaveContext is constructed fresh for every transport invocation.
type SaveContext struct {
	// Ctx is cancelled by Abort. The transport may ignore it;
	// cancellation does not guarantee the remote side effect did not
	// occur.
	Ctx context.Context

	// Token is the UUIDv7 attempt token.
	Token string

	// Timestamp is when the attempt started.
	Timestamp time.Time

	// RetryCount is the consecutive-failure counter at attempt start.
	RetryCount int

	cancel context.CancelFunc
}

// Cancel signals the attempt's context. Best-effort.
func (sc *SaveContext) Cancel() {
	if sc.cancel != nil {
		sc.cancel()
	}
}

// Transport performs the actual remote save. It must be safe to call
// repeatedly with different payloads and must not retain the payload
// map after returning.
type Transport func(ctx context.Context, payload Payload, sc *SaveContext) Result

// Defaults used when no option overrides them.
const (
	DefaultDebounce   = 500 * time.Millisecond
	DefaultMaxRetries = 3
)

// Queue coalesces queued field changes into debounced single-flight
// transport calls.
//
// All mutable state is private and guarded by one mutex. The debounce
// timer, inflight flag, rerun flag, and failure counter never escape.
type Queue struct {
	mu       sync.Mutex
	pending  Payload
	timer    *time.Timer
	inflight bool
	rerun    bool
	failures int
	lastErr  error
	sc       *SaveContext

	debounce   time.Duration
	maxRetries int
	transport  Transport
	tokens     TokenGenerator
	now        func() time.Time
	onSettle   func(taken Payload, res Result)
	logger     *slog.Logger
	metrics    metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithDebounce sets the coalescing window. Zero means every queued
// change flushes immediately.
func WithDebounce(d time.Duration) Option {
	return func(q *Queue) { q.debounce = d }
}

// WithMaxRetries sets the retry ceiling. Exceeding it is logged as
// terminal for the attempt but the payload stays queued.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithTokenGenerator overrides the attempt token generator (for tests).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(q *Queue) { q.tokens = g }
}

// WithClock overrides the wall clock used for timestamps and duration
// metrics (for tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithOnSettle registers a callback invoked after every transport
// settle with the attempted payload and its result. Used by the
// coordinator for journaling and by the test harness for tracing.
func WithOnSettle(fn func(taken Payload, res Result)) Option {
	return func(q *Queue) { q.onSettle = fn }
}

// New creates a save queue around the given transport.
func New(transport Transport, opts ...Option) *Queue {
	q := &Queue{
		pending:    Payload{},
		debounce:   DefaultDebounce,
		maxRetries: DefaultMaxRetries,
		transport:  transport,
		tokens:     UUIDv7Generator{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueueChange merges delta into the pending payload (delta wins on
// conflicting paths) and rearms the debounce timer for the full window
// measured from this change. With a zero window the change flushes
// immediately instead.
func (q *Queue) QueueChange(delta Payload) {
	q.mu.Lock()
	for k, v := range delta {
		q.pending[k] = v
	}
	immediate := q.debounce <= 0
	if !immediate {
		if q.timer != nil {
			q.timer.Stop()
		}
		q.timer = time.AfterFunc(q.debounce, func() {
			q.Flush(context.Background())
		})
	}
	q.logger.Debug("change queued", "fields", len(delta), "pending", len(q.pending))
	q.mu.Unlock()

	if immediate {
		q.Flush(context.Background())
	}
}

// Flush attempts to save the pending payload now.
//
// Empty payload: immediate success, no transport call. Attempt already
// in flight: the rerun flag is set and a Deferred success returns
// immediately. Otherwise the pending payload is taken atomically and
// the transport invoked with a fresh SaveContext.
func (q *Queue) Flush(ctx context.Context) Result {
	q.mu.Lock()
	if q.inflight {
		q.rerun = true
		q.mu.Unlock()
		return Result{OK: true, Deferred: true}
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return Success()
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	taken := q.pending
	q.pending = Payload{}
	q.inflight = true

	cctx, cancel := context.WithCancel(ctx)
	sc := &SaveContext{
		Ctx:        cctx,
		Token:      q.tokens.Generate(),
		Timestamp:  q.now(),
		RetryCount: q.failures,
		cancel:     cancel,
	}
	q.sc = sc
	q.mu.Unlock()

	start := q.now()
	res := q.invoke(cctx, taken, sc)
	dur := q.now().Sub(start)

	q.mu.Lock()
	q.metrics.observe(res.OK, dur)
	if res.OK {
		q.failures = 0
		q.lastErr = nil
		q.logger.Info("save succeeded", "token", sc.Token, "fields", len(taken), "duration", dur)
	} else {
		q.lastErr = res.Err
		q.requeueLocked(taken)
		if res.Code == CodeValidationFailed {
			// Not retried automatically: the payload stays pending and a
			// new edit re-triggers the pipeline.
			q.logger.Warn("validation failed, save skipped", "token", sc.Token, "error", res.Err)
		} else {
			q.failures++
			q.metrics.retries++
			if q.failures > q.maxRetries {
				q.logger.Error("save retry ceiling exceeded, payload remains queued",
					"token", sc.Token, "failures", q.failures, "max_retries", q.maxRetries, "error", res.Err)
			} else {
				q.logger.Warn("save failed, payload requeued",
					"token", sc.Token, "failures", q.failures, "max_retries", q.maxRetries, "error", res.Err)
			}
		}
	}

	// Clear inflight state and honor a rerun requested while in flight.
	q.inflight = false
	q.sc = nil
	cancel()

	rerunNow := false
	if q.rerun {
		q.rerun = false
		if len(q.pending) > 0 {
			if q.debounce > 0 {
				q.timer = time.AfterFunc(q.debounce, func() {
					q.Flush(context.Background())
				})
			} else {
				rerunNow = true
			}
		}
	}
	onSettle := q.onSettle
	q.mu.Unlock()

	if onSettle != nil {
		onSettle(taken, res)
	}
	if rerunNow {
		go q.Flush(context.Background())
	}
	return res
}

// requeueLocked merges a failed attempt's payload back under the
// pending payload. Pending fields win on conflicting paths: they are
// strictly more recent edits.
func (q *Queue) requeueLocked(taken Payload) {
	for k, v := range taken {
		if _, ok := q.pending[k]; !ok {
			q.pending[k] = v
		}
	}
}

// invoke calls the transport, converting panics into failed results so
// the queue never throws uncaught.
func (q *Queue) invoke(ctx context.Context, payload Payload, sc *SaveContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(CodeTransportError, fmt.Errorf("transport panic: %v", r))
		}
	}()
	res = q.transport(ctx, payload, sc)
	if !res.OK {
		if res.Code == "" {
			res.Code = CodeTransportError
		}
		if res.Err == nil {
			res.Err = NewError(res.Code, "save failed")
		}
	}
	return res
}

// Abort clears the pending payload and any scheduled timer, cancels
// the inflight attempt's context (best-effort), and clears the rerun
// flag. An aborted-but-possibly-applied remote write is reconciled on
// the next sync, not rolled back.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.pending = Payload{}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.rerun = false
	sc := q.sc
	q.logger.Debug("save queue aborted")
	q.mu.Unlock()

	if sc != nil {
		sc.Cancel()
	}
}

// Pending returns a copy of the pending payload.
func (q *Queue) Pending() Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Clone()
}

// IsSaving reports whether a transport call is in flight.
func (q *Queue) IsSaving() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// LastError returns the most recent settle error, nil after a success.
func (q *Queue) LastError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// Failures returns the consecutive-failure counter.
func (q *Queue) Failures() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failures
}
