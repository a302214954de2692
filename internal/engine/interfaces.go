package engine

// Interfaces discovered through use: each one has a production
// implementation and at least one test double.

import (
	"context"
	"os"

	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// Process is a running worker.
// Implementations: execProcess (os/exec), mocks.InProcessWorker.
type Process interface {
	Pid() int
	// Exited reports whether the process has ended and its exit code.
	Exited() (bool, int)
	Signal(sig os.Signal) error
	Kill() error
}

// WorkerSpec describes a worker to start
type WorkerSpec struct {
	Index int
	Owner string
	Dir   layout.WorkerDir
	RunID string
}

// Spawner starts worker processes.
// Implementations: ExecSpawner, mocks.InProcessSpawner.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Process, error)
	// Wait blocks until every spawned process has been reaped.
	Wait() error
}

// Notifier reports run outcomes.
// Implementations: notifier.RunNotifier, mocks.MockNotifier.
type Notifier interface {
	NotifyRunSuccess(summary types.RunSummary)
	NotifyRunFailure(err error)
}
