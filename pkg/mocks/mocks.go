// Package mocks provides test doubles for the scheduler's collaborators.
// Workers run as goroutines instead of processes but talk to the scheduler
// through the same directory protocol.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/engine"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/internal/worker"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// InProcessSpawner runs each worker in a goroutine of the test process
type InProcessSpawner struct {
	Farm   *types.FarmConfig
	Cooker cook.Cooker

	// Crash makes the worker with that index log a crash line and exit 1
	// as soon as it receives its first job.
	Crash map[int]bool

	mu      sync.Mutex
	wg      sync.WaitGroup
	spawned []engine.WorkerSpec
}

// NewInProcessSpawner creates a spawner whose workers cook with cooker
func NewInProcessSpawner(farm *types.FarmConfig, cooker cook.Cooker) *InProcessSpawner {
	return &InProcessSpawner{Farm: farm, Cooker: cooker, Crash: map[int]bool{}}
}

// Spawn implements engine.Spawner
func (s *InProcessSpawner) Spawn(ctx context.Context, spec engine.WorkerSpec) (engine.Process, error) {
	logFile, err := os.OpenFile(spec.Dir.Log(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	s.mu.Lock()
	s.spawned = append(s.spawned, spec)
	pid := 10000 + len(s.spawned)
	cooker := s.Cooker
	if s.Crash[spec.Index] {
		cooker = &CrashingCooker{}
	}
	s.mu.Unlock()

	wctx, cancel := context.WithCancel(context.Background())
	proc := &InProcessWorker{pid: pid, cancel: cancel, done: make(chan struct{})}

	log := logger.CreateLoggerWithOutput("", string(types.LogLevelDebug), logFile)
	w := worker.New(worker.Config{
		Index: spec.Index,
		Owner: spec.Owner,
		Dir:   spec.Dir,
		Farm:  s.Farm,
	}, cooker, log)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer logFile.Close()

		code := 0
		if err := w.Run(wctx); err != nil {
			fmt.Fprintf(logFile, "%s %v\n", worker.CrashMarker, err)
			code = 1
		}
		proc.exit(code)
	}()
	return proc, nil
}

// Wait implements engine.Spawner
func (s *InProcessSpawner) Wait() error {
	s.wg.Wait()
	return nil
}

// Spawned returns the specs of every worker started so far
func (s *InProcessSpawner) Spawned() []engine.WorkerSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.WorkerSpec(nil), s.spawned...)
}

// InProcessWorker is the engine.Process of a goroutine worker. Signal and
// Kill cancel the worker's context.
type InProcessWorker struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	code int
}

func (p *InProcessWorker) exit(code int) {
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

// Pid implements engine.Process
func (p *InProcessWorker) Pid() int { return p.pid }

// Exited implements engine.Process
func (p *InProcessWorker) Exited() (bool, int) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.code
	default:
		return false, 0
	}
}

// Signal implements engine.Process
func (p *InProcessWorker) Signal(os.Signal) error {
	p.cancel()
	return nil
}

// Kill implements engine.Process
func (p *InProcessWorker) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// CrashingCooker fails every job with an error the worker treats as fatal
type CrashingCooker struct{}

// Cook implements cook.Cooker
func (c *CrashingCooker) Cook(_ context.Context, job types.Job, _ *cook.Env) (*cook.Result, error) {
	return &cook.Result{Job: job}, nil
}

// Persist implements cook.Cooker
func (c *CrashingCooker) Persist(_ context.Context, job types.Job, _ *cook.Result, _ metadata.View) error {
	return &cook.PrivateRecordError{Key: job.String() + "/P0", Owner: "corrupt"}
}

// FailingCooker fails the jobs it lists and delegates the rest
type FailingCooker struct {
	Next cook.Cooker
	Fail map[types.Job]bool
}

// Cook implements cook.Cooker
func (c *FailingCooker) Cook(ctx context.Context, job types.Job, env *cook.Env) (*cook.Result, error) {
	if c.Fail[job] {
		return nil, errors.New("mock cook failure")
	}
	return c.Next.Cook(ctx, job, env)
}

// Persist implements cook.Cooker
func (c *FailingCooker) Persist(ctx context.Context, job types.Job, res *cook.Result, view metadata.View) error {
	return c.Next.Persist(ctx, job, res, view)
}

// MockNotifier records run outcomes
type MockNotifier struct {
	mu        sync.Mutex
	successes []types.RunSummary
	failures  []error
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyRunSuccess implements engine.Notifier
func (n *MockNotifier) NotifyRunSuccess(summary types.RunSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, summary)
}

// NotifyRunFailure implements engine.Notifier
func (n *MockNotifier) NotifyRunFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
}

// Successes returns the recorded success summaries
func (n *MockNotifier) Successes() []types.RunSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.RunSummary(nil), n.successes...)
}

// Failures returns the recorded failures
func (n *MockNotifier) Failures() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.failures...)
}
