package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_KeyOrder(t *testing.T) {
	obj := Object{"b": Int(2), "a": Int(1)}

	data, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(data))

	// Insertion order must not matter.
	obj2 := Object{}
	obj2["b"] = Int(2)
	obj2["a"] = Int(1)
	data2, err := MarshalCanonical(obj2)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2))
}

func TestMarshalCanonical_Scalars(t *testing.T) {
	cases := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null{}, "null"},
		{"string", String("hi"), `"hi"`},
		{"int", Int(-42), "-42"},
		{"float", Float(0.5), "0.5"},
		{"bool", Bool(true), "true"},
		{"list", List{Int(1), String("x")}, `[1,"x"]`},
		{"nested", Object{"o": Object{"k": Null{}}}, `{"o":{"k":null}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := MarshalCanonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(data))
		})
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalCanonical(String("<a> & </a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a> & </a>"`, string(data))
}

func TestMarshalCanonical_Time(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	data, err := MarshalCanonical(NewTime(ts))
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-01T12:30:00Z"`, string(data))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "é" as e + combining acute vs precomposed must serialize identically.
	decomposed := String("é")
	precomposed := String("é")

	d1, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	d2, err := MarshalCanonical(precomposed)
	require.NoError(t, err)
	assert.Equal(t, string(d2), string(d1))
}

func TestUnmarshalValue_RoundTrip(t *testing.T) {
	obj := Object{
		"title": String("hello"),
		"count": Int(7),
		"ratio": Float(1.25),
		"done":  Bool(true),
		"note":  Null{},
		"tags":  List{Object{"id": Int(1)}},
	}

	data, err := MarshalCanonical(obj)
	require.NoError(t, err)

	back, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.True(t, Equal(obj, back))
}

func TestUnmarshalValue_LargeInt(t *testing.T) {
	// 2^53 + 1 loses precision through float64.
	v, err := UnmarshalValue([]byte("9007199254740993"))
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), v)
}
