package engine

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/internal/metrics"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// MergeStats summarizes one merge
type MergeStats struct {
	Records int
	Bytes   int64
}

// MergeEngine folds worker fragments into the authoritative table and stores.
// Only the scheduler owns one.
type MergeEngine struct {
	table  *metadata.Table
	stores *content.Set
	fsu    *utils.FileSystemUtils
	logger logger.Logger
}

// NewMergeEngine creates a merge engine over the authoritative state
func NewMergeEngine(table *metadata.Table, stores *content.Set, fsu *utils.FileSystemUtils, log logger.Logger) *MergeEngine {
	return &MergeEngine{table: table, stores: stores, fsu: fsu, logger: log}
}

// Merge writes every private record of fragment, read from source, into the
// authoritative stores and copies the fragment's facts. A record keeping its
// identity and fitting its old slot is overwritten in place; anything else is
// appended. Keys the fragment dropped are removed and their slots counted as
// waste. Records owned by anyone but owner are rejected before anything is
// written.
func (m *MergeEngine) Merge(owner string, fragment *metadata.Table, source *content.Set) (MergeStats, error) {
	var stats MergeStats

	keys := fragment.Keys()
	for _, key := range keys {
		rec, _ := fragment.Lookup(key)
		if rec.Owner != owner {
			return stats, fmt.Errorf("%w: %s owned by %q, merging %q", ErrForeignRecord, key, rec.Owner, owner)
		}
	}

	for _, key := range keys {
		rec, _ := fragment.Lookup(key)
		data, err := source.Read(rec)
		if err != nil {
			return stats, fmt.Errorf("merge %s: %w", key, err)
		}
		if _, err := m.stores.Write(m.table, rec.Store, key, content.Payload{
			Data:         data,
			Identity:     rec.Identity,
			ElementCount: rec.ElementCount,
			Flags:        rec.Flags,
		}); err != nil {
			return stats, fmt.Errorf("merge %s: %w", key, err)
		}
		stats.Records++
		stats.Bytes += rec.Size
	}

	for _, key := range fragment.DroppedKeys() {
		m.table.Drop(key, m.stores.Alignment())
	}
	m.table.MergeFacts(fragment)

	if m.table.NeedsSync() {
		return stats, fmt.Errorf("%w after merging %s: %v", ErrUnmergedRecords, owner, m.table.PrivateKeys())
	}
	if err := m.stores.Sync(); err != nil {
		return stats, fmt.Errorf("flush authoritative stores: %w", err)
	}
	return stats, nil
}

// MergeWorker merges the fragment file a worker left in dir, then deletes
// the fragment and the worker's private stores. A missing fragment is not an
// error: the worker had nothing to hand over.
func (m *MergeEngine) MergeWorker(owner string, dir layout.WorkerDir, reason string) (MergeStats, bool, error) {
	fragment, err := metadata.Load(dir.Fragment())
	if errors.Is(err, fs.ErrNotExist) {
		return MergeStats{}, false, nil
	}
	if err != nil {
		return MergeStats{}, false, err
	}

	source := content.NewSet(dir.Path(), owner, m.stores.Alignment())
	stats, err := m.Merge(owner, fragment, source)
	if err != nil {
		source.Close()
		return stats, false, err
	}

	if err := source.Remove(); err != nil {
		return stats, true, fmt.Errorf("remove private stores of %s: %w", owner, err)
	}
	if err := m.fsu.Remove(dir.Fragment()); err != nil {
		return stats, true, fmt.Errorf("remove fragment of %s: %w", owner, err)
	}

	metrics.RecordMerge(reason, stats.Bytes)
	metrics.WastedBytes.Set(float64(m.table.WastedBytes))
	m.logger.Debug("Merged fragment",
		logger.WithField("owner", owner),
		logger.WithField("reason", reason),
		logger.WithField("records", stats.Records),
		logger.WithField("bytes", stats.Bytes))
	return stats, true, nil
}
