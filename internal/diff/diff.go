// Package diff computes structural differences between record snapshots.
//
// Diff is a pure function: it never mutates its inputs and its output
// depends only on the two snapshots, never on map insertion order.
package diff

import (
	"github.com/roach88/scribe/internal/record"
)

// Patch is one field-path-scoped before/after value pair.
// A nil Prev or Next means the field was absent on that side.
// Patches are immutable once created.
type Patch struct {
	// Path is the dotted field path the change applies to.
	Path string

	// Prev is the value before the change, nil if absent.
	Prev record.Value

	// Next is the value after the change, nil if absent.
	Next record.Value

	// RootField is the top-level segment of Path, used for
	// dirty-tracking at field granularity.
	RootField string
}

// Invert returns the patch with Prev and Next swapped.
func (p Patch) Invert() Patch {
	return Patch{Path: p.Path, Prev: p.Next, Next: p.Prev, RootField: p.RootField}
}

// Diff produces the ordered list of patches that transform prev into
// next, rooted at basePath.
//
// Recursion descends only through plain keyed containers (Objects): a
// difference at a scalar, timestamp, or list yields exactly one patch
// carrying the whole value. Equal subtrees yield nothing; equal
// snapshots yield an empty result.
//
// Emission order is the canonical key order at each level (union of
// both key sets, sorted), so output is deterministic for given inputs.
func Diff(prev, next record.Value, basePath string) []Patch {
	var patches []Patch
	return appendDiff(patches, prev, next, basePath)
}

func appendDiff(patches []Patch, prev, next record.Value, path string) []Patch {
	if record.Equal(prev, next) {
		return patches
	}

	prevObj, prevIsObj := prev.(record.Object)
	nextObj, nextIsObj := next.(record.Object)
	if !prevIsObj || !nextIsObj {
		return append(patches, Patch{
			Path:      path,
			Prev:      prev,
			Next:      next,
			RootField: record.RootField(path),
		})
	}

	for _, key := range unionKeys(prevObj, nextObj) {
		pv, pok := prevObj[key]
		nv, nok := nextObj[key]
		if !pok {
			pv = nil
		}
		if !nok {
			nv = nil
		}
		patches = appendDiff(patches, pv, nv, record.JoinPath(path, key))
	}
	return patches
}

// unionKeys returns the sorted union of both objects' key sets.
// Deciding which paths differ must never depend on insertion order.
func unionKeys(a, b record.Object) []string {
	merged := make(record.Object, len(a)+len(b))
	for k := range a {
		merged[k] = nil
	}
	for k := range b {
		merged[k] = nil
	}
	return merged.SortedKeys()
}
