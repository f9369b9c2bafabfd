package saver

import "time"

// metrics accumulates save counters. Owned by the Queue, guarded by
// the Queue mutex.
type metrics struct {
	total       uint64
	succeeded   uint64
	failed      uint64
	retries     uint64
	avgDur      time.Duration
	cacheHits   uint64
	cacheMisses uint64
}

// observe folds one settled attempt into the counters using a simple
// incremental mean for duration.
func (m *metrics) observe(ok bool, dur time.Duration) {
	m.total++
	if ok {
		m.succeeded++
	} else {
		m.failed++
	}
	m.avgDur += (dur - m.avgDur) / time.Duration(m.total)
}

// MetricsSnapshot is a point-in-time copy of the queue's counters.
type MetricsSnapshot struct {
	Total       uint64
	Succeeded   uint64
	Failed      uint64
	Retries     uint64
	AvgDuration time.Duration
	CacheHits   uint64
	CacheMisses uint64
}

// Metrics returns a snapshot of the queue's counters.
func (q *Queue) Metrics() MetricsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return MetricsSnapshot{
		Total:       q.metrics.total,
		Succeeded:   q.metrics.succeeded,
		Failed:      q.metrics.failed,
		Retries:     q.metrics.retries,
		AvgDuration: q.metrics.avgDur,
		CacheHits:   q.metrics.cacheHits,
		CacheMisses: q.metrics.cacheMisses,
	}
}

// AddCacheHit counts a validation cache hit. Called by the coordinator
// when validation caching is paired with the queue.
func (q *Queue) AddCacheHit() {
	q.mu.Lock()
	q.metrics.cacheHits++
	q.mu.Unlock()
}

// AddCacheMiss counts a validation cache miss.
func (q *Queue) AddCacheMiss() {
	q.mu.Lock()
	q.metrics.cacheMisses++
	q.mu.Unlock()
}
