package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

func TestDispatchLoop_CommandTimeout(t *testing.T) {
	root := t.TempDir()
	cfg := &types.FarmConfig{
		SourceRoot:   filepath.Join(root, "src"),
		MetadataPath: filepath.Join(root, "table.meta"),
		StoreDir:     filepath.Join(root, "stores"),
		WorkDir:      filepath.Join(root, "work"),
		Alignment:    types.DefaultAlignment,
		Timeouts: &types.TimeoutConfig{
			PollInterval:   5,
			CommandTimeout: 30,
		},
	}
	s, err := New(cfg, logger.Nop(), Options{Cooker: cook.NewFileCooker(cfg), Spawner: nopSpawner{}})
	require.NoError(t, err)

	owner := layout.OwnerID("dispatch-test", 0)
	spec := WorkerSpec{Owner: owner, Dir: layout.ForWorker(cfg.WorkDir, owner)}
	require.NoError(t, os.MkdirAll(spec.Dir.Path(), 0755))
	h := newHandle(spec, &neverExits{}, s.fsu)
	s.workers = append(s.workers, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the worker never reads its first command, so the second never goes out
	err = s.DispatchLoop(ctx, []types.Job{"Tex/A.png", "Tex/B.png"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "Tex/A.png")
	assert.Equal(t, "Tex/A.png", h.CurrentJob)
	assert.FileExists(t, spec.Dir.Command())
}

func TestRefreshStates_ConsumedCommandIsNotATimeout(t *testing.T) {
	root := t.TempDir()
	cfg := &types.FarmConfig{
		MetadataPath: filepath.Join(root, "table.meta"),
		StoreDir:     filepath.Join(root, "stores"),
		WorkDir:      filepath.Join(root, "work"),
		Alignment:    types.DefaultAlignment,
		Timeouts:     &types.TimeoutConfig{PollInterval: 5, CommandTimeout: 1},
	}
	s, err := New(cfg, logger.Nop(), Options{Cooker: cook.NewFileCooker(cfg), Spawner: nopSpawner{}})
	require.NoError(t, err)

	owner := layout.OwnerID("dispatch-test", 0)
	spec := WorkerSpec{Owner: owner, Dir: layout.ForWorker(cfg.WorkDir, owner)}
	require.NoError(t, os.MkdirAll(spec.Dir.Path(), 0755))
	h := newHandle(spec, &neverExits{}, s.fsu)
	s.workers = append(s.workers, h)

	require.NoError(t, s.dispatch(h, "Tex/A.png"))
	// a long job: the command was taken and the worker is still busy
	require.NoError(t, os.WriteFile(spec.Dir.Busy(), []byte("Tex/A.png"), 0644))
	require.NoError(t, os.Remove(spec.Dir.Command()))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.refreshStates())
	assert.Equal(t, types.WorkerStateBusy, h.State)

	require.NoError(t, os.Remove(spec.Dir.Busy()))
	require.NoError(t, s.refreshStates())
	assert.Equal(t, types.WorkerStateIdle, h.State)
	assert.Equal(t, 1, h.JobsCompleted)
}
