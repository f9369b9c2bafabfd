// Package validate caches validation outcomes keyed by payload
// signature, so repeated pre-save validation of unchanged field values
// does not re-run the (asynchronous) validator.
package validate

import (
	"sync"
	"time"

	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/saver"
)

// Defaults used when no option overrides them.
const (
	DefaultSize = 64
	DefaultTTL  = 30 * time.Second
)

type entry struct {
	valid bool
	at    time.Time
}

// Cache is a size- and TTL-bounded map of payload signature to
// validation outcome with hit/miss counters.
//
// All state is guarded by one mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	size    int
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithSize bounds the number of cached signatures.
func WithSize(n int) Option {
	return func(c *Cache) { c.size = n }
}

// WithTTL bounds entry age.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithClock overrides the wall clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a validation cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		size:    DefaultSize,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signature renders a payload as canonical JSON for use as a cache
// key. Payloads with the same values always produce the same key.
func Signature(payload saver.Payload) (string, error) {
	obj := make(record.Object, len(payload))
	for k, v := range payload {
		obj[k] = v
	}
	data, err := record.MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Get returns the cached outcome for a signature.
// ok=false means no live entry exists (missing or expired).
func (c *Cache) Get(sig string) (valid bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[sig]
	if !found || c.now().Sub(e.at) > c.ttl {
		if found {
			delete(c.entries, sig)
		}
		c.misses++
		return false, false
	}
	c.hits++
	return e.valid, true
}

// Put stores an outcome, evicting the oldest entry when full.
func (c *Cache) Put(sig string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sig]; !exists && len(c.entries) >= c.size {
		c.evictOldestLocked()
	}
	c.entries[sig] = entry{valid: valid, at: c.now()}
}

// evictOldestLocked removes the entry with the oldest timestamp.
// Linear scan: the cache is small by configuration.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.at.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.at
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops one signature (after its fields changed).
func (c *Cache) Invalidate(sig string) {
	c.mu.Lock()
	delete(c.entries, sig)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Counters returns the hit/miss counts.
func (c *Cache) Counters() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of live entries (including not-yet-expired).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
