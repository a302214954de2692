// Package metadata holds the table that records where every payload landed in
// the content stores, together with per-target facts.
package metadata

import "strings"

// Record locates one payload inside a content store.
//
// A record with an empty Owner is authoritative and its Offset points into the
// shared store. A record with an Owner was written by that worker into its
// private store; Offset is then local to the private file and the record must
// be merged before anything may reference it.
type Record struct {
	Store        string `msgpack:"store"`
	Owner        string `msgpack:"owner,omitempty"`
	Offset       int64  `msgpack:"offset"`
	Size         int64  `msgpack:"size"`
	ElementCount int64  `msgpack:"elements"`
	Flags        uint32 `msgpack:"flags"`
	Identity     string `msgpack:"identity"`
}

// IsPrivate reports whether the record still lives in a worker's private store
func (r Record) IsPrivate() bool {
	return r.Owner != ""
}

// AlignedSize returns the number of bytes the record occupies on disk
func (r Record) AlignedSize(alignment int64) int64 {
	return AlignUp(r.Size, alignment)
}

// End returns the first byte after the record's aligned slot
func (r Record) End(alignment int64) int64 {
	return r.Offset + r.AlignedSize(alignment)
}

// SameLocation reports whether both records live in the same physical file
func (r Record) SameLocation(store, owner string) bool {
	return r.Store == store && r.Owner == owner
}

// AlignUp rounds n up to the next multiple of alignment
func AlignUp(n, alignment int64) int64 {
	if alignment <= 1 {
		return n
	}
	if rem := n % alignment; rem != 0 {
		return n + alignment - rem
	}
	return n
}

// QualifiedKey builds the table key for a payload produced by target
func QualifiedKey(target, name string) string {
	return target + "/" + name
}

// TargetOf returns the target part of a qualified key
func TargetOf(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}
