package record

import (
	"fmt"
	"slices"
	"time"
	"unicode/utf16"
)

// IdentityKey is the object key that marks list items as identity-bearing.
// Lists whose items all carry this key compare by id set, not by position.
const IdentityKey = "id"

// Value is a sealed interface over the types a record field may hold.
// Only Null, String, Int, Float, Bool, Time, List, and Object implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an explicit null field value.
// Distinct from an absent field: Get reports absence via its ok result.
type Null struct{}

func (Null) value() {}

// String represents a string field value.
type String string

func (String) value() {}

// Int represents an integer field value. Always int64.
type Int int64

func (Int) value() {}

// Float represents a floating point field value.
type Float float64

func (Float) value() {}

// Bool represents a boolean field value.
type Bool bool

func (Bool) value() {}

// Time represents a timestamp field value.
// Equality is instant equality (time.Time.Equal), not struct equality,
// so the same instant in different locations compares equal.
type Time struct {
	time.Time
}

func (Time) value() {}

// NewTime wraps a time.Time as a Value.
func NewTime(t time.Time) Time {
	return Time{Time: t}
}

// List represents an ordered list of values.
type List []Value

func (List) value() {}

// Object represents a keyed container of values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// SortedKeys returns keys in canonical order (UTF-16 code units), the
// same comparator canonical JSON uses for object keys.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// Clone returns a copy of the object sharing no top-level storage with
// the original. Nested Objects and Lists are copied recursively.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		// Scalars and Time are value types.
		return v
	}
}

// compareKeysUTF16 compares strings by UTF-16 code units.
// Go's native string comparison is UTF-8 byte order, which disagrees
// with canonical JSON key order for characters outside the BMP.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// Equal reports deep structural equality between two values.
//
// Rules:
//   - nil means "absent"; absent equals only absent.
//   - Time values compare by instant.
//   - Lists of identity-bearing items (every item an Object carrying
//     IdentityKey) compare by id set, order-insensitive.
//   - Other lists compare by length and pairwise equality.
//   - Objects compare over the union of both key sets.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Time:
		bv, ok := b.(Time)
		return ok && av.Time.Equal(bv.Time)
	case List:
		bv, ok := b.(List)
		if !ok {
			return false
		}
		return listsEqual(av, bv)
	case Object:
		bv, ok := b.(Object)
		if !ok {
			return false
		}
		return objectsEqual(av, bv)
	default:
		return false
	}
}

func listsEqual(a, b List) bool {
	// Identity-bearing lists compare as id sets to tolerate reordering
	// noise from list UIs.
	aIDs, aKeyed := ListIDs(a)
	bIDs, bKeyed := ListIDs(b)
	if aKeyed && bKeyed {
		if len(aIDs) != len(bIDs) {
			return false
		}
		for id := range aIDs {
			if _, ok := bIDs[id]; !ok {
				return false
			}
		}
		return true
	}

	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func objectsEqual(a, b Object) bool {
	for k, av := range a {
		if !Equal(av, b[k]) {
			return false
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// ListIDs extracts the identity set of a list.
// Returns ok=false unless the list is non-empty and every item is an
// Object carrying IdentityKey.
func ListIDs(l List) (map[string]struct{}, bool) {
	if len(l) == 0 {
		return nil, false
	}
	ids := make(map[string]struct{}, len(l))
	for _, item := range l {
		obj, ok := item.(Object)
		if !ok {
			return nil, false
		}
		id, ok := obj[IdentityKey]
		if !ok {
			return nil, false
		}
		ids[IDString(id)] = struct{}{}
	}
	return ids, true
}

// IDString renders an identity value as a map key.
func IDString(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	default:
		// Uncommon id types fall back to canonical bytes.
		data, err := MarshalCanonical(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// FromGo converts a plain Go value (as produced by yaml or encoding/json
// decoding into any) to a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(val), nil
	case time.Time:
		return NewTime(val), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = cv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ObjectFromGo converts a map of plain Go values to an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToGo converts a Value back to plain Go types for display and generic
// JSON output. Null becomes nil.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return val.Time
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}
