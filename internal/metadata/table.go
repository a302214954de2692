package metadata

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Index is the part of a table the content store write path needs
type Index interface {
	Lookup(key string) (Record, bool)
	Put(key string, rec Record)
	AddWaste(n int64)
}

// View is what a cooker sees: records plus per-target facts
type View interface {
	Index
	KeysForTarget(target string) []string
	// Drop forgets the record under key; its aligned slot becomes waste.
	Drop(key string, alignment int64)

	Timestamp(target string) (time.Time, bool)
	Version(target string) (string, bool)
	Hash(target string) (string, bool)
	SetTimestamp(target string, ts time.Time)
	SetVersion(target, version string)
	SetHash(target, hash string)
}

// Table maps qualified keys to records and targets to facts.
// It is not safe for concurrent use; only one goroutine owns a table.
type Table struct {
	Records     map[string]Record    `msgpack:"records"`
	Timestamps  map[string]time.Time `msgpack:"timestamps"`
	Versions    map[string]string    `msgpack:"versions"`
	Hashes      map[string]string    `msgpack:"hashes"`
	WastedBytes int64                `msgpack:"wasted"`

	// Dropped holds keys a fragment removed from the snapshot it was cooked against
	Dropped map[string]bool `msgpack:"dropped,omitempty"`
}

var _ View = (*Table)(nil)

// New creates an empty table
func New() *Table {
	t := &Table{}
	t.init()
	return t
}

func (t *Table) init() {
	if t.Records == nil {
		t.Records = make(map[string]Record)
	}
	if t.Timestamps == nil {
		t.Timestamps = make(map[string]time.Time)
	}
	if t.Versions == nil {
		t.Versions = make(map[string]string)
	}
	if t.Dropped == nil {
		t.Dropped = make(map[string]bool)
	}
	if t.Hashes == nil {
		t.Hashes = make(map[string]string)
	}
}

// Lookup returns the record stored under key
func (t *Table) Lookup(key string) (Record, bool) {
	rec, ok := t.Records[key]
	return rec, ok
}

// Put stores rec under key, replacing any previous record
func (t *Table) Put(key string, rec Record) {
	t.Records[key] = rec
	delete(t.Dropped, key)
}

// Delete removes the record stored under key
func (t *Table) Delete(key string) {
	delete(t.Records, key)
}

// Drop implements View
func (t *Table) Drop(key string, alignment int64) {
	rec, ok := t.Records[key]
	if !ok {
		return
	}
	delete(t.Records, key)
	t.AddWaste(rec.AlignedSize(alignment))
}

// MarkDropped records that key was removed from an underlying snapshot
func (t *Table) MarkDropped(key string) {
	delete(t.Records, key)
	t.Dropped[key] = true
}

// DroppedKeys returns the sorted keys marked as dropped
func (t *Table) DroppedKeys() []string {
	keys := make([]string, 0, len(t.Dropped))
	for k := range t.Dropped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddWaste grows the wasted-bytes counter. It never shrinks.
func (t *Table) AddWaste(n int64) {
	if n > 0 {
		t.WastedBytes += n
	}
}

// Len returns the number of records
func (t *Table) Len() int {
	return len(t.Records)
}

// Empty reports whether the table holds neither records nor facts
func (t *Table) Empty() bool {
	return len(t.Records) == 0 && len(t.Timestamps) == 0 && len(t.Versions) == 0 && len(t.Hashes) == 0 && len(t.Dropped) == 0
}

// Keys returns every record key, sorted
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.Records))
	for k := range t.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysForTarget returns the sorted keys of records produced by target
func (t *Table) KeysForTarget(target string) []string {
	prefix := target + "/"
	var keys []string
	for k := range t.Records {
		if strings.HasPrefix(k, prefix) && TargetOf(k) == target {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Targets returns every target that has at least one fact, sorted
func (t *Table) Targets() []string {
	seen := make(map[string]struct{})
	for k := range t.Timestamps {
		seen[k] = struct{}{}
	}
	for k := range t.Versions {
		seen[k] = struct{}{}
	}
	for k := range t.Hashes {
		seen[k] = struct{}{}
	}
	targets := make([]string, 0, len(seen))
	for k := range seen {
		targets = append(targets, k)
	}
	sort.Strings(targets)
	return targets
}

// NeedsSync reports whether any record still points into a private store
func (t *Table) NeedsSync() bool {
	for _, rec := range t.Records {
		if rec.IsPrivate() {
			return true
		}
	}
	return false
}

// PrivateKeys returns the sorted keys of every private record
func (t *Table) PrivateKeys() []string {
	var keys []string
	for k, rec := range t.Records {
		if rec.IsPrivate() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Timestamp returns the recorded source timestamp of target
func (t *Table) Timestamp(target string) (time.Time, bool) {
	ts, ok := t.Timestamps[target]
	return ts, ok
}

// Version returns the recorded cooker version of target
func (t *Table) Version(target string) (string, bool) {
	v, ok := t.Versions[target]
	return v, ok
}

// Hash returns the recorded content hash of target
func (t *Table) Hash(target string) (string, bool) {
	h, ok := t.Hashes[target]
	return h, ok
}

// SetTimestamp records the source timestamp of target
func (t *Table) SetTimestamp(target string, ts time.Time) {
	t.Timestamps[target] = ts
}

// SetVersion records the cooker version of target
func (t *Table) SetVersion(target, version string) {
	t.Versions[target] = version
}

// SetHash records the content hash of target
func (t *Table) SetHash(target, hash string) {
	t.Hashes[target] = hash
}

// MergeFacts copies every fact from src over the facts held by t
func (t *Table) MergeFacts(src *Table) {
	for k, v := range src.Timestamps {
		t.Timestamps[k] = v
	}
	for k, v := range src.Versions {
		t.Versions[k] = v
	}
	for k, v := range src.Hashes {
		t.Hashes[k] = v
	}
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	c := New()
	for k, v := range t.Records {
		c.Records[k] = v
	}
	c.MergeFacts(t)
	for k := range t.Dropped {
		c.Dropped[k] = true
	}
	c.WastedBytes = t.WastedBytes
	return c
}

// StoreStats summarizes the records of one physical store
type StoreStats struct {
	Store   string
	Owner   string
	Records int
	Bytes   int64
}

// Stats returns per-store record counts and payload bytes, sorted by store then owner
func (t *Table) Stats() []StoreStats {
	type loc struct{ store, owner string }
	byLoc := make(map[loc]*StoreStats)
	for _, rec := range t.Records {
		l := loc{rec.Store, rec.Owner}
		s, ok := byLoc[l]
		if !ok {
			s = &StoreStats{Store: rec.Store, Owner: rec.Owner}
			byLoc[l] = s
		}
		s.Records++
		s.Bytes += rec.Size
	}

	stats := make([]StoreStats, 0, len(byLoc))
	for _, s := range byLoc {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Store != stats[j].Store {
			return stats[i].Store < stats[j].Store
		}
		return stats[i].Owner < stats[j].Owner
	})
	return stats
}

// CheckDisjoint verifies that no two records of the same physical store
// claim overlapping aligned byte ranges.
func (t *Table) CheckDisjoint(alignment int64) error {
	type span struct {
		key        string
		start, end int64
	}
	byLoc := make(map[string][]span)
	for key, rec := range t.Records {
		end := rec.End(alignment)
		if end == rec.Offset {
			// empty records occupy no bytes
			continue
		}
		loc := rec.Store + "\x00" + rec.Owner
		byLoc[loc] = append(byLoc[loc], span{key: key, start: rec.Offset, end: end})
	}

	for _, spans := range byLoc {
		sort.Slice(spans, func(i, j int) bool {
			if spans[i].start != spans[j].start {
				return spans[i].start < spans[j].start
			}
			return spans[i].key < spans[j].key
		})
		for i := 1; i < len(spans); i++ {
			prev, cur := spans[i-1], spans[i]
			if cur.start < prev.end {
				return fmt.Errorf("%w: %s [%d,%d) and %s [%d,%d)", ErrOverlap,
					prev.key, prev.start, prev.end, cur.key, cur.start, cur.end)
			}
		}
	}
	return nil
}
