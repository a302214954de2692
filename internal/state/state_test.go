package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

func writeRecord(t *testing.T, dir string, st RunState) {
	t.Helper()
	data, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0644))
}

func TestAcquireAndFinish(t *testing.T) {
	dir := t.TempDir()
	sm := NewStateManager(dir, logger.Nop())

	require.NoError(t, sm.Acquire("run-1"))

	st, err := sm.Read()
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, os.Getpid(), st.ProcessID)
	assert.Equal(t, RunStatusRunning, st.Status)

	locked, err := sm.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked, "our own run never locks us out")

	summary := types.RunSummary{RunID: "run-1", Jobs: 4, Workers: 2, Parallel: true, Merges: 6}
	require.NoError(t, sm.Finish(summary, nil))

	st, err = sm.Read()
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, st.Status)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 6, st.Summary.Merges)
	assert.False(t, st.EndTime.IsZero())
}

func TestFinish_RecordsFailure(t *testing.T) {
	sm := NewStateManager(t.TempDir(), logger.Nop())
	require.NoError(t, sm.Acquire("run-2"))
	require.NoError(t, sm.Finish(types.RunSummary{}, errors.New("worker 1 crashed")))

	st, err := sm.Read()
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, st.Status)
	assert.Equal(t, "worker 1 crashed", st.LastError)
}

func TestAcquire_RefusesLiveRun(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, RunState{
		RunID:     "other",
		ProcessID: 4242,
		Status:    RunStatusRunning,
		Heartbeat: time.Now(),
	})

	sm := NewStateManager(dir, logger.Nop())
	sm.isAlive = func(pid int) bool { return pid == 4242 }

	err := sm.Acquire("mine")
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Contains(t, err.Error(), "pid 4242")

	st, err := sm.Read()
	require.NoError(t, err)
	assert.Equal(t, "other", st.RunID, "a refused run must not overwrite the record")
}

func TestAcquire_TakesOverAbandonedRuns(t *testing.T) {
	tests := []struct {
		name   string
		record RunState
		alive  bool
	}{
		{
			name:   "stale heartbeat",
			record: RunState{RunID: "old", ProcessID: 4242, Status: RunStatusRunning, Heartbeat: time.Now().Add(-time.Hour)},
			alive:  true,
		},
		{
			name:   "dead process",
			record: RunState{RunID: "old", ProcessID: 4242, Status: RunStatusRunning, Heartbeat: time.Now()},
			alive:  false,
		},
		{
			name:   "finished run",
			record: RunState{RunID: "old", ProcessID: 4242, Status: RunStatusSucceeded, Heartbeat: time.Now()},
			alive:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRecord(t, dir, tt.record)

			sm := NewStateManager(dir, logger.Nop())
			sm.isAlive = func(int) bool { return tt.alive }

			require.NoError(t, sm.Acquire("new"))
			st, err := sm.Read()
			require.NoError(t, err)
			assert.Equal(t, "new", st.RunID)
		})
	}
}

func TestAcquire_IgnoresCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644))

	sm := NewStateManager(dir, logger.Nop())
	require.NoError(t, sm.Acquire("run"))
}

func TestTouch(t *testing.T) {
	sm := NewStateManager(t.TempDir(), logger.Nop())
	sm.Touch() // nothing held

	require.NoError(t, sm.Acquire("run"))
	before, err := sm.Read()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	sm.Touch()

	after, err := sm.Read()
	require.NoError(t, err)
	assert.True(t, after.Heartbeat.After(before.Heartbeat))
}

func TestRemove(t *testing.T) {
	sm := NewStateManager(t.TempDir(), logger.Nop())
	require.NoError(t, sm.Remove(), "removing a missing record is fine")

	require.NoError(t, sm.Acquire("run"))
	require.NoError(t, sm.Remove())

	_, err := sm.Read()
	assert.True(t, os.IsNotExist(err))
}
