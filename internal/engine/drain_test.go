package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// stopOnRequest exits with code 0 once stop lands in its command slot
type stopOnRequest struct {
	dir layout.WorkerDir

	mu   sync.Mutex
	done bool
}

func (p *stopOnRequest) Pid() int { return 1 }

func (p *stopOnRequest) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		data, err := os.ReadFile(p.dir.Command())
		if err == nil && strings.TrimSpace(string(data)) == types.CommandStop {
			p.done = true
			os.Remove(p.dir.Command())
		}
	}
	return p.done, 0
}

func (p *stopOnRequest) Signal(os.Signal) error { return nil }
func (p *stopOnRequest) Kill() error            { return nil }

type nopSpawner struct{}

func (nopSpawner) Spawn(context.Context, WorkerSpec) (Process, error) { return nil, nil }
func (nopSpawner) Wait() error                                        { return nil }

func TestDrain_StopsOnlyIdleWorkers(t *testing.T) {
	root := t.TempDir()
	cfg := &types.FarmConfig{
		SourceRoot:   filepath.Join(root, "src"),
		MetadataPath: filepath.Join(root, "table.meta"),
		StoreDir:     filepath.Join(root, "stores"),
		WorkDir:      filepath.Join(root, "work"),
		Alignment:    types.DefaultAlignment,
		Timeouts: &types.TimeoutConfig{
			PollInterval: 5,
			ExitTimeout:  5000,
			GracePeriod:  10,
		},
	}
	s, err := New(cfg, logger.Nop(), Options{Cooker: cook.NewFileCooker(cfg), Spawner: nopSpawner{}})
	require.NoError(t, err)

	var dirs []layout.WorkerDir
	for i := 0; i < 2; i++ {
		owner := layout.OwnerID("drain-test", i)
		spec := WorkerSpec{Index: i, Owner: owner, Dir: layout.ForWorker(cfg.WorkDir, owner)}
		require.NoError(t, os.MkdirAll(spec.Dir.Path(), 0755))
		s.workers = append(s.workers, newHandle(spec, &stopOnRequest{dir: spec.Dir}, s.fsu))
		dirs = append(dirs, spec.Dir)
	}

	// worker 1 is in the middle of a job
	require.NoError(t, os.WriteFile(dirs[1].Busy(), []byte("Tex/A.png"), 0644))
	s.workers[1].State = types.WorkerStateBusy

	done := make(chan error, 1)
	go func() { done <- s.Drain(context.Background()) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(dirs[0].Path())
		return os.IsNotExist(err)
	}, 5*time.Second, 5*time.Millisecond, "idle worker is stopped and retired")

	time.Sleep(50 * time.Millisecond)
	assert.NoFileExists(t, dirs[1].Command(), "stop must not be sent to a busy worker")
	select {
	case err := <-done:
		t.Fatalf("drain returned while a worker was busy: %v", err)
	default:
	}

	require.NoError(t, os.Remove(dirs[1].Busy()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}
	assert.NoDirExists(t, dirs[1].Path())
}

func TestDrain_ExitTimeout(t *testing.T) {
	root := t.TempDir()
	cfg := &types.FarmConfig{
		MetadataPath: filepath.Join(root, "table.meta"),
		StoreDir:     filepath.Join(root, "stores"),
		WorkDir:      filepath.Join(root, "work"),
		Alignment:    types.DefaultAlignment,
		Timeouts:     &types.TimeoutConfig{PollInterval: 5, ExitTimeout: 30},
	}
	s, err := New(cfg, logger.Nop(), Options{Cooker: cook.NewFileCooker(cfg), Spawner: nopSpawner{}})
	require.NoError(t, err)

	owner := layout.OwnerID("drain-test", 0)
	spec := WorkerSpec{Owner: owner, Dir: layout.ForWorker(cfg.WorkDir, owner)}
	require.NoError(t, os.MkdirAll(spec.Dir.Path(), 0755))
	s.workers = append(s.workers, newHandle(spec, &neverExits{}, s.fsu))

	err = s.Drain(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

type neverExits struct{}

func (neverExits) Pid() int               { return 1 }
func (neverExits) Exited() (bool, int)    { return false, 0 }
func (neverExits) Signal(os.Signal) error { return nil }
func (neverExits) Kill() error            { return nil }
