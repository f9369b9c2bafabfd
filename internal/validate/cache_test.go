package validate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/record"
	"github.com/roach88/scribe/internal/saver"
	"github.com/roach88/scribe/internal/testutil"
)

func TestCache_HitAndMiss(t *testing.T) {
	c := New()

	_, ok := c.Get("sig")
	assert.False(t, ok)

	c.Put("sig", true)
	valid, ok := c.Get("sig")
	require.True(t, ok)
	assert.True(t, valid)

	hits, misses := c.Counters()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(WithTTL(10*time.Second), WithClock(clock.Now))

	c.Put("sig", false)
	valid, ok := c.Get("sig")
	require.True(t, ok)
	assert.False(t, valid)

	clock.Advance(11 * time.Second)
	_, ok = c.Get("sig")
	assert.False(t, ok, "expired entries read as misses")
	assert.Equal(t, 0, c.Len(), "expired entries are dropped on read")
}

func TestCache_SizeEviction(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(WithSize(2), WithTTL(time.Hour), WithClock(clock.Now))

	c.Put("a", true)
	clock.Advance(time.Second)
	c.Put("b", true)
	clock.Advance(time.Second)
	c.Put("c", true) // evicts "a", the oldest

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Invalidate(t *testing.T) {
	c := New()
	c.Put("sig", true)
	c.Invalidate("sig")
	_, ok := c.Get("sig")
	assert.False(t, ok)
}

func TestSignature_Deterministic(t *testing.T) {
	p1 := saver.Payload{"b": record.Int(2), "a": record.Int(1)}
	p2 := saver.Payload{}
	p2["a"] = record.Int(1)
	p2["b"] = record.Int(2)

	s1, err := Signature(p1)
	require.NoError(t, err)
	s2, err := Signature(p2)
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "signature must not depend on insertion order")

	s3, err := Signature(saver.Payload{"a": record.Int(1), "b": record.Int(3)})
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3)
}

func TestCache_ReplacingExistingDoesNotEvict(t *testing.T) {
	c := New(WithSize(2))
	c.Put("a", true)
	c.Put("b", true)
	c.Put("a", false) // replacement, not insertion

	assert.Equal(t, 2, c.Len())
	valid, ok := c.Get("a")
	require.True(t, ok)
	assert.False(t, valid)
}

func TestCache_ManySignatures(t *testing.T) {
	c := New(WithSize(8))
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("sig-%d", i), true)
	}
	assert.LessOrEqual(t, c.Len(), 8)
}
