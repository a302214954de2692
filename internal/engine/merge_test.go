package engine_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/engine"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

const align = 2048

type mergeFixture struct {
	root   string
	fsu    *utils.FileSystemUtils
	table  *metadata.Table
	stores *content.Set
	merger *engine.MergeEngine
}

func newMergeFixture(t *testing.T) *mergeFixture {
	t.Helper()
	root := t.TempDir()
	fsu := utils.NewFileSystemUtils()
	table := metadata.New()
	stores := content.NewSet(filepath.Join(root, "stores"), "", align)
	t.Cleanup(func() { stores.Close() })
	return &mergeFixture{
		root:   root,
		fsu:    fsu,
		table:  table,
		stores: stores,
		merger: engine.NewMergeEngine(table, stores, fsu, logger.Nop()),
	}
}

// stage writes payloads into a worker's private stores as setOwner and
// leaves the fragment in the worker directory of dirOwner
func (f *mergeFixture) stage(t *testing.T, dirOwner, setOwner string, payloads map[string][]byte) layout.WorkerDir {
	t.Helper()
	dir := layout.ForWorker(filepath.Join(f.root, "work"), dirOwner)
	require.NoError(t, os.MkdirAll(dir.Path(), 0755))

	frag := metadata.New()
	priv := content.NewSet(dir.Path(), setOwner, align)
	for key, data := range payloads {
		_, err := priv.Write(frag, "mips", key, content.Payload{Data: data, Identity: key, ElementCount: int64(len(data))})
		require.NoError(t, err)
		frag.SetHash(metadata.TargetOf(key), "h-"+key)
	}
	require.NoError(t, priv.Close())
	require.NoError(t, metadata.Save(f.fsu, dir.Fragment(), frag))
	return dir
}

func TestMergeWorker_TwoFragmentsNeverOverlap(t *testing.T) {
	f := newMergeFixture(t)

	a := map[string][]byte{
		"Tex/A/P0": bytes.Repeat([]byte{1}, 3000),
		"Tex/A/P1": bytes.Repeat([]byte{2}, 1500),
	}
	b := map[string][]byte{
		"Tex/B/P0": bytes.Repeat([]byte{3}, 5000),
		"Tex/B/P1": bytes.Repeat([]byte{4}, 10),
	}
	dirA := f.stage(t, "run.w0", "run.w0", a)
	dirB := f.stage(t, "run.w1", "run.w1", b)

	statsA, merged, err := f.merger.MergeWorker("run.w0", dirA, "sync")
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, 2, statsA.Records)
	assert.Equal(t, int64(4500), statsA.Bytes)

	_, merged, err = f.merger.MergeWorker("run.w1", dirB, "drain")
	require.NoError(t, err)
	assert.True(t, merged)

	assert.False(t, f.table.NeedsSync())
	assert.Equal(t, 4, f.table.Len())
	require.NoError(t, f.table.CheckDisjoint(align))

	for key, want := range mergeAll(a, b) {
		rec, ok := f.table.Lookup(key)
		require.True(t, ok, key)
		assert.Empty(t, rec.Owner)
		assert.Zero(t, rec.Offset%align, "offset of %s must be aligned", key)
		got, err := f.stores.Read(rec)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	hash, ok := f.table.Hash("Tex/B")
	assert.True(t, ok)
	assert.Contains(t, hash, "h-Tex/B/", "facts are merged with the records")

	assert.NoFileExists(t, dirA.Fragment())
	assert.NoFileExists(t, content.StorePath(dirA.Path(), "mips", "run.w0"))
	assert.NoFileExists(t, dirB.Fragment())
	assert.NoFileExists(t, content.StorePath(dirB.Path(), "mips", "run.w1"))
}

func TestMergeWorker_MissingFragment(t *testing.T) {
	f := newMergeFixture(t)
	dir := layout.ForWorker(filepath.Join(f.root, "work"), "run.w0")
	require.NoError(t, os.MkdirAll(dir.Path(), 0755))

	stats, merged, err := f.merger.MergeWorker("run.w0", dir, "drain")
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Zero(t, stats.Records)
}

func TestMergeWorker_RejectsForeignRecords(t *testing.T) {
	f := newMergeFixture(t)
	dir := f.stage(t, "run.w0", "run.w1", map[string][]byte{"Tex/A/P0": {1, 2, 3}})

	_, merged, err := f.merger.MergeWorker("run.w0", dir, "sync")
	assert.ErrorIs(t, err, engine.ErrForeignRecord)
	assert.False(t, merged)
	assert.Zero(t, f.table.Len(), "nothing may be merged from a rejected fragment")
	assert.FileExists(t, dir.Fragment())
}

func mergeAll(maps ...map[string][]byte) map[string][]byte {
	out := make(map[string][]byte)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestMergeWorker_SameIdentityRewritesInPlace(t *testing.T) {
	const mib = 1 << 20
	f := newMergeFixture(t)

	canonical, err := f.stores.Write(f.table, "mips", "Tex/T3/P0", content.Payload{
		Data: bytes.Repeat([]byte{1}, 10*mib), Identity: "Tex/T3/P0", ElementCount: 1,
	})
	require.NoError(t, err)
	require.Zero(t, canonical.Offset)
	st, err := f.stores.Get("mips")
	require.NoError(t, err)
	end := st.End()

	dir := f.stage(t, "run.w1", "run.w1", map[string][]byte{"Tex/T3/P0": bytes.Repeat([]byte{2}, 6*mib)})
	_, merged, err := f.merger.MergeWorker("run.w1", dir, "sync")
	require.NoError(t, err)
	require.True(t, merged)

	rec, ok := f.table.Lookup("Tex/T3/P0")
	require.True(t, ok)
	assert.Equal(t, canonical.Offset, rec.Offset)
	assert.Equal(t, int64(6*mib), rec.Size)
	assert.Equal(t, int64(4*mib), f.table.WastedBytes)
	assert.Equal(t, end, st.End(), "an in-place rewrite does not grow the store")

	got, err := f.stores.Read(rec)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, 6*mib), got)
}

func TestMergeWorker_AppliesDroppedKeys(t *testing.T) {
	f := newMergeFixture(t)
	for _, key := range []string{"Tex/A/P0", "Tex/A/P1"} {
		_, err := f.stores.Write(f.table, "mips", key, content.Payload{Data: []byte{1, 2, 3}, Identity: key})
		require.NoError(t, err)
	}

	dir := f.stage(t, "run.w0", "run.w0", map[string][]byte{"Tex/A/P0": {4, 5}})
	frag, err := metadata.Load(dir.Fragment())
	require.NoError(t, err)
	frag.MarkDropped("Tex/A/P1")
	require.NoError(t, metadata.Save(f.fsu, dir.Fragment(), frag))

	_, _, err = f.merger.MergeWorker("run.w0", dir, "drain")
	require.NoError(t, err)

	_, ok := f.table.Lookup("Tex/A/P1")
	assert.False(t, ok)
	assert.Equal(t, []string{"Tex/A/P0"}, f.table.KeysForTarget("Tex/A"))
	assert.Equal(t, int64(align), f.table.WastedBytes)
}
