package saver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/testutil"
)

// scriptedTransport records payloads and returns scripted results in
// order, defaulting to success once the script runs out.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    []Payload
	contexts []*SaveContext
	script   []Result
	inflight int
	maxSeen  int
	gate     chan struct{} // when non-nil, calls block until closed
}

func (tr *scriptedTransport) call(_ context.Context, payload Payload, sc *SaveContext) Result {
	tr.mu.Lock()
	tr.inflight++
	if tr.inflight > tr.maxSeen {
		tr.maxSeen = tr.inflight
	}
	tr.calls = append(tr.calls, payload.Clone())
	tr.contexts = append(tr.contexts, sc)
	var res Result
	if len(tr.script) > 0 {
		res = tr.script[0]
		tr.script = tr.script[1:]
	} else {
		res = Success()
	}
	gate := tr.gate
	tr.mu.Unlock()

	if gate != nil {
		<-gate
	}

	tr.mu.Lock()
	tr.inflight--
	tr.mu.Unlock()
	return res
}

func (tr *scriptedTransport) callCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

func (tr *scriptedTransport) payloadAt(i int) Payload {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls[i]
}

func TestCoalescing_BurstYieldsOneCall(t *testing.T) {
	tr := &scriptedTransport{}
	q := New(tr.call, WithDebounce(30*time.Millisecond))

	q.QueueChange(Payload{"title": record.String("a")})
	q.QueueChange(Payload{"body": record.String("b")})
	q.QueueChange(Payload{"title": record.String("c")}) // overrides first

	time.Sleep(120 * time.Millisecond)

	require.Equal(t, 1, tr.callCount(), "a burst within the window coalesces into one call")
	got := tr.payloadAt(0)
	assert.Equal(t, record.String("c"), got["title"], "last write wins per path")
	assert.Equal(t, record.String("b"), got["body"])
}

func TestDebounce_TimerRearmsPerChange(t *testing.T) {
	tr := &scriptedTransport{}
	q := New(tr.call, WithDebounce(50*time.Millisecond))

	// Each change lands before the previous window elapses, so the
	// flush keeps moving out and fires exactly once.
	for i := 0; i < 3; i++ {
		q.QueueChange(Payload{"n": record.Int(int64(i))})
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 0, tr.callCount(), "no flush while edits keep arriving")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, tr.callCount())
}

func TestZeroDebounce_FlushesImmediately(t *testing.T) {
	tr := &scriptedTransport{}
	q := New(tr.call, WithDebounce(0))

	q.QueueChange(Payload{"a": record.Int(1)})
	q.QueueChange(Payload{"b": record.Int(2)})

	assert.Equal(t, 2, tr.callCount(), "zero window means no coalescing")
}

func TestFlush_EmptyPayloadIsNoop(t *testing.T) {
	tr := &scriptedTransport{}
	q := New(tr.call)

	res := q.Flush(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, 0, tr.callCount())
}

func TestSingleFlight_SecondFlushDefersAndReruns(t *testing.T) {
	tr := &scriptedTransport{gate: make(chan struct{})}
	q := New(tr.call, WithDebounce(time.Hour))

	q.QueueChange(Payload{"a": record.Int(1)})

	done := make(chan Result, 1)
	go func() { done <- q.Flush(context.Background()) }()

	// Wait for the first call to be in flight.
	require.Eventually(t, func() bool { return tr.callCount() == 1 }, time.Second, time.Millisecond)
	require.True(t, q.IsSaving())

	q.QueueChange(Payload{"b": record.Int(2)})
	res := q.Flush(context.Background())
	assert.True(t, res.OK)
	assert.True(t, res.Deferred, "caller is told a later attempt will occur, not that data is saved")

	close(tr.gate)
	first := <-done
	assert.True(t, first.OK)

	// The rerun consumes the payload queued while in flight.
	require.Eventually(t, func() bool { return tr.callCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, Payload{"b": record.Int(2)}, tr.payloadAt(1))

	tr.mu.Lock()
	maxSeen := tr.maxSeen
	tr.mu.Unlock()
	assert.Equal(t, 1, maxSeen, "never more than one transport call concurrently")
}

func TestFailureRequeue_MergedIntoNextAttempt(t *testing.T) {
	tr := &scriptedTransport{script: []Result{
		Failure(CodeTransportError, errors.New("boom")),
	}}
	q := New(tr.call, WithDebounce(time.Hour))

	q.QueueChange(Payload{"title": record.String("a"), "body": record.String("x")})
	res := q.Flush(context.Background())
	require.False(t, res.OK)
	assert.Equal(t, 1, q.Failures())
	assert.Error(t, q.LastError())

	// A newer edit on a conflicting path wins over the requeued value.
	q.QueueChange(Payload{"title": record.String("b")})
	res = q.Flush(context.Background())
	require.True(t, res.OK)

	second := tr.payloadAt(1)
	assert.Equal(t, record.String("b"), second["title"], "pending fields are strictly more recent")
	assert.Equal(t, record.String("x"), second["body"], "failed payload is never dropped")
	assert.Equal(t, 0, q.Failures(), "success resets the failure counter")
	assert.NoError(t, q.LastError())
}

func TestRetryCeiling_ExceededButNotFatal(t *testing.T) {
	tr := &scriptedTransport{script: []Result{
		Failure(CodeTransportError, errors.New("1")),
		Failure(CodeTransportError, errors.New("2")),
		Failure(CodeTransportError, errors.New("3")),
	}}
	q := New(tr.call, WithDebounce(time.Hour), WithMaxRetries(1))

	q.QueueChange(Payload{"a": record.Int(1)})
	for i := 0; i < 3; i++ {
		res := q.Flush(context.Background())
		require.False(t, res.OK)
	}

	assert.Equal(t, 3, q.Failures())
	assert.Equal(t, Payload{"a": record.Int(1)}, q.Pending(),
		"payload remains queued for a manual or future flush")

	// RetryCount in the save context reflects consecutive failures.
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, 0, tr.contexts[0].RetryCount)
	assert.Equal(t, 1, tr.contexts[1].RetryCount)
	assert.Equal(t, 2, tr.contexts[2].RetryCount)
}

func TestValidationFailure_NotCountedAgainstRetries(t *testing.T) {
	tr := &scriptedTransport{script: []Result{
		Failure(CodeValidationFailed, NewError(CodeValidationFailed, "title too long")),
	}}
	q := New(tr.call, WithDebounce(time.Hour))

	q.QueueChange(Payload{"title": record.String("way too long")})
	res := q.Flush(context.Background())
	require.False(t, res.OK)
	assert.True(t, IsCode(res.Err, CodeValidationFailed))

	assert.Equal(t, 0, q.Failures(), "validation failures are not retried, so they do not count")
	assert.Len(t, q.Pending(), 1, "payload stays pending until the fields change again")
}

func TestAbort_BeforeTimerFires(t *testing.T) {
	tr := &scriptedTransport{}
	q := New(tr.call, WithDebounce(50*time.Millisecond))

	q.QueueChange(Payload{"title": record.String("B")})
	q.Abort()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, tr.callCount(), "transport is never invoked after abort")
	assert.Empty(t, q.Pending())
}

func TestAbort_CancelsInflightContext(t *testing.T) {
	tr := &scriptedTransport{gate: make(chan struct{})}
	q := New(tr.call, WithDebounce(time.Hour))

	q.QueueChange(Payload{"a": record.Int(1)})
	done := make(chan Result, 1)
	go func() { done <- q.Flush(context.Background()) }()
	require.Eventually(t, func() bool { return tr.callCount() == 1 }, time.Second, time.Millisecond)

	q.Abort()

	tr.mu.Lock()
	sc := tr.contexts[0]
	tr.mu.Unlock()
	select {
	case <-sc.Ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("abort did not cancel the inflight context")
	}

	close(tr.gate)
	<-done
}

func TestTransportPanic_ConvertedToFailure(t *testing.T) {
	panicking := func(_ context.Context, _ Payload, _ *SaveContext) Result {
		panic("transport blew up")
	}
	q := New(panicking, WithDebounce(time.Hour))

	q.QueueChange(Payload{"a": record.Int(1)})
	res := q.Flush(context.Background())

	require.False(t, res.OK)
	assert.Equal(t, CodeTransportError, res.Code)
	assert.Len(t, q.Pending(), 1, "panicked attempt's payload is requeued")
}

func TestMetrics(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := &scriptedTransport{script: []Result{
		Failure(CodeTransportError, errors.New("boom")),
	}}
	q := New(tr.call,
		WithDebounce(time.Hour),
		WithClock(clock.Now),
		WithTokenGenerator(testutil.NewFixedTokens("t1", "t2")),
	)

	q.QueueChange(Payload{"a": record.Int(1)})
	q.Flush(context.Background())
	q.Flush(context.Background())

	m := q.Metrics()
	assert.Equal(t, uint64(2), m.Total)
	assert.Equal(t, uint64(1), m.Succeeded)
	assert.Equal(t, uint64(1), m.Failed)
	assert.Equal(t, uint64(1), m.Retries)

	q.AddCacheHit()
	q.AddCacheMiss()
	m = q.Metrics()
	assert.Equal(t, uint64(1), m.CacheHits)
	assert.Equal(t, uint64(1), m.CacheMisses)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, "t1", tr.contexts[0].Token)
	assert.Equal(t, "t2", tr.contexts[1].Token)
}

func TestOnSettle_ReceivesTakenPayload(t *testing.T) {
	tr := &scriptedTransport{}
	var settled []Payload
	var mu sync.Mutex
	q := New(tr.call,
		WithDebounce(time.Hour),
		WithOnSettle(func(taken Payload, res Result) {
			mu.Lock()
			settled = append(settled, taken)
			mu.Unlock()
		}),
	)

	q.QueueChange(Payload{"a": record.Int(1)})
	q.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, settled, 1)
	assert.Equal(t, record.Int(1), settled[0]["a"])
}
