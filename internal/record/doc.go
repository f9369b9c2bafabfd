// Package record defines the value model for edited records.
//
// A record snapshot is a tree of Value nodes: scalars (string, int,
// float, bool), timestamps, lists, and keyed objects. Snapshots are
// treated as immutable by every engine in this module - mutation always
// produces a new tree via Set, never edits in place.
//
// The package also provides dotted field paths (Get/Set/Root) and a
// canonical JSON serialization used wherever a deterministic byte form
// of a value is needed: payload signatures for the validation cache,
// journal rows, and golden traces. Canonical output sorts object keys
// by UTF-16 code units and NFC-normalizes strings, so two snapshots
// that compare Equal always serialize to identical bytes.
package record
