package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/cookfarm/cookfarm/pkg/logger"
)

// Hidden flags that turn a cook invocation into a worker.
const (
	FlagWorkerIndex = "worker-index"
	FlagWorkerDir   = "worker-dir"
	FlagRunID       = "run-id"
)

// WorkerArgs returns the extra arguments that make a worker out of spec
func WorkerArgs(spec WorkerSpec) []string {
	return []string{
		"--" + FlagWorkerIndex, strconv.Itoa(spec.Index),
		"--" + FlagWorkerDir, spec.Dir.Path(),
		"--" + FlagRunID, spec.RunID,
	}
}

// ExecSpawner starts workers as child processes of the current executable
type ExecSpawner struct {
	executable string
	args       []string
	logger     logger.Logger
	group      *SafeGroup
}

// NewExecSpawner creates a spawner that re-runs the current executable with
// args plus the worker flags
func NewExecSpawner(ctx context.Context, args []string, log logger.Logger) (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	group, _ := NewSafeGroup(ctx, log)
	return &ExecSpawner{
		executable: exe,
		args:       append([]string(nil), args...),
		logger:     log,
		group:      group,
	}, nil
}

// Spawn implements Spawner. The worker runs inside its own directory and its
// stdout and stderr go to its log file.
func (s *ExecSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	logFile, err := os.OpenFile(spec.Dir.Log(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	args := append(append([]string(nil), s.args...), WorkerArgs(spec)...)
	cmd := exec.Command(s.executable, args...)
	cmd.Dir = spec.Dir.Path()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start worker %d: %w", spec.Index, err)
	}

	proc := &execProcess{cmd: cmd}
	s.logger.Debug("Spawned worker",
		logger.WithField("index", spec.Index),
		logger.WithField("pid", cmd.Process.Pid))

	s.group.Go("reaper-"+spec.Owner, func() error {
		defer logFile.Close()
		err := cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				code = -1
			} else {
				code = exitErr.ExitCode()
			}
		}
		proc.markExited(code)
		return nil
	})

	return proc, nil
}

// Wait implements Spawner
func (s *ExecSpawner) Wait() error {
	return s.group.Wait()
}

type execProcess struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	done   bool
	status int
}

func (p *execProcess) markExited(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.status = code
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.status
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
