package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "title", JoinPath("", "title"))
	assert.Equal(t, "shipping.city", JoinPath("shipping", "city"))
}

func TestRootField(t *testing.T) {
	assert.Equal(t, "title", RootField("title"))
	assert.Equal(t, "shipping", RootField("shipping.address.city"))
}

func TestGet(t *testing.T) {
	obj := Object{
		"title": String("x"),
		"shipping": Object{
			"address": Object{"city": String("Oslo")},
		},
	}

	v, ok := Get(obj, "shipping.address.city")
	require.True(t, ok)
	assert.Equal(t, String("Oslo"), v)

	_, ok = Get(obj, "shipping.missing")
	assert.False(t, ok)

	_, ok = Get(obj, "title.not.an.object")
	assert.False(t, ok)

	v, ok = Get(obj, "")
	require.True(t, ok)
	assert.True(t, Equal(obj, v))
}

func TestSet_DoesNotMutateInput(t *testing.T) {
	orig := Object{"shipping": Object{"city": String("Oslo")}}

	updated := Set(orig, "shipping.city", String("Bergen"))

	v, _ := Get(updated, "shipping.city")
	assert.Equal(t, String("Bergen"), v)
	v, _ = Get(orig, "shipping.city")
	assert.Equal(t, String("Oslo"), v, "input snapshot must stay intact")
}

func TestSet_CreatesIntermediates(t *testing.T) {
	updated := Set(Object{}, "a.b.c", Int(1))
	v, ok := Get(updated, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)
}

func TestSet_NilDeletes(t *testing.T) {
	obj := Object{"a": Int(1), "b": Int(2)}
	updated := Set(obj, "a", nil)
	_, ok := Get(updated, "a")
	assert.False(t, ok)
	_, ok = Get(updated, "b")
	assert.True(t, ok)
}
