package metadata

import (
	"sort"
	"time"
)

// Overlay layers a worker's private fragment over a read-only snapshot of the
// authoritative table. Reads consult the fragment first; writes only touch it.
type Overlay struct {
	Snapshot *Table
	Fragment *Table
}

var _ View = (*Overlay)(nil)

// NewOverlay creates an overlay; nil tables are replaced with empty ones
func NewOverlay(snapshot, fragment *Table) *Overlay {
	if snapshot == nil {
		snapshot = New()
	}
	if fragment == nil {
		fragment = New()
	}
	return &Overlay{Snapshot: snapshot, Fragment: fragment}
}

// Lookup implements Index
func (o *Overlay) Lookup(key string) (Record, bool) {
	if rec, ok := o.Fragment.Lookup(key); ok {
		return rec, true
	}
	if o.Fragment.Dropped[key] {
		return Record{}, false
	}
	return o.Snapshot.Lookup(key)
}

// Put implements Index
func (o *Overlay) Put(key string, rec Record) {
	o.Fragment.Put(key, rec)
}

// Drop implements View. Snapshot records are only marked; the merge frees
// their slots in the authoritative stores.
func (o *Overlay) Drop(key string, alignment int64) {
	if _, ok := o.Snapshot.Lookup(key); ok {
		o.Fragment.MarkDropped(key)
		return
	}
	o.Fragment.Drop(key, alignment)
}

// AddWaste implements Index
func (o *Overlay) AddWaste(n int64) {
	o.Fragment.AddWaste(n)
}

// KeysForTarget returns the union of both layers' keys for target
func (o *Overlay) KeysForTarget(target string) []string {
	seen := make(map[string]struct{})
	for _, k := range o.Snapshot.KeysForTarget(target) {
		if !o.Fragment.Dropped[k] {
			seen[k] = struct{}{}
		}
	}
	for _, k := range o.Fragment.KeysForTarget(target) {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Timestamp implements View
func (o *Overlay) Timestamp(target string) (time.Time, bool) {
	if ts, ok := o.Fragment.Timestamp(target); ok {
		return ts, true
	}
	return o.Snapshot.Timestamp(target)
}

// Version implements View
func (o *Overlay) Version(target string) (string, bool) {
	if v, ok := o.Fragment.Version(target); ok {
		return v, true
	}
	return o.Snapshot.Version(target)
}

// Hash implements View
func (o *Overlay) Hash(target string) (string, bool) {
	if h, ok := o.Fragment.Hash(target); ok {
		return h, true
	}
	return o.Snapshot.Hash(target)
}

// SetTimestamp implements View
func (o *Overlay) SetTimestamp(target string, ts time.Time) {
	o.Fragment.SetTimestamp(target, ts)
}

// SetVersion implements View
func (o *Overlay) SetVersion(target, version string) {
	o.Fragment.SetVersion(target, version)
}

// SetHash implements View
func (o *Overlay) SetHash(target, hash string) {
	o.Fragment.SetHash(target, hash)
}

// NeedsSync reports whether the fragment holds private records
func (o *Overlay) NeedsSync() bool {
	return o.Fragment.NeedsSync()
}

// Rebase swaps in a fresh snapshot and clears the fragment
func (o *Overlay) Rebase(snapshot *Table) {
	if snapshot == nil {
		snapshot = New()
	}
	o.Snapshot = snapshot
	o.Fragment = New()
}
