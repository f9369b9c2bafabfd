package record

import "strings"

// Field paths are dotted strings ("shipping.address.city"). The first
// segment is the root field, which is the granularity dirty-tracking
// and baseline merging operate at.

// JoinPath appends a key to a base path.
func JoinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// RootField returns the top-level segment of a path.
func RootField(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// Get resolves a dotted path against an object.
// Returns ok=false if any segment is absent or traverses a non-object.
func Get(obj Object, path string) (Value, bool) {
	if path == "" {
		return obj, true
	}
	segs := strings.Split(path, ".")
	var cur Value = obj
	for _, seg := range segs {
		container, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = container[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set returns a copy of obj with the value at a dotted path replaced.
// Intermediate objects are created as needed; intermediate non-object
// values are overwritten. The input object is not mutated.
func Set(obj Object, path string, v Value) Object {
	segs := strings.Split(path, ".")
	return setSegs(obj, segs, v)
}

func setSegs(obj Object, segs []string, v Value) Object {
	out := make(Object, len(obj)+1)
	for k, val := range obj {
		out[k] = val
	}

	head := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(out, head)
		} else {
			out[head] = v
		}
		return out
	}

	child, _ := out[head].(Object)
	out[head] = setSegs(child, segs[1:], v)
	return out
}
