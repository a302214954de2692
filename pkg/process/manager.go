// Package process provides process lifecycle utilities for the scheduler and workers
package process

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cookfarm/cookfarm/pkg/logger"
)

// ErrParentGone is returned by a liveness check once the spawning process has exited
var ErrParentGone = errors.New("parent process exited")

// DefaultHeartbeatInterval is used when SetHeartbeat is given no interval
const DefaultHeartbeatInterval = 10 * time.Second

// Manager handles process lifecycle and signals
type Manager struct {
	logger            logger.Logger
	shutdownHandlers  []func()
	heartbeatFunc     func()
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:            log,
		shutdownHandlers:  make([]func(), 0),
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// RegisterShutdownHandler adds a shutdown handler. Handlers run in reverse
// registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start starts the process manager with the given context.
// The context controls the lifetime of the manager.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.heartbeatStop = make(chan struct{})
	stop := m.heartbeatStop
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case <-ctx.Done():
			m.handleShutdown()
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig))
			m.handleShutdown()
		case <-stop:
		}
	}()

	if m.heartbeatFunc != nil {
		m.startHeartbeat(ctx, stop)
	}
}

// Stop stops the process manager without running shutdown handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.heartbeatStop)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetHeartbeat sets a function called every interval while the manager runs
func (m *Manager) SetHeartbeat(interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	m.heartbeatInterval = interval
	m.heartbeatFunc = fn
}

func (m *Manager) handleShutdown() {
	m.logger.Info("Initiating graceful shutdown...")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

func (m *Manager) startHeartbeat(ctx context.Context, stop <-chan struct{}) {
	m.mu.Lock()
	interval := m.heartbeatInterval
	fn := m.heartbeatFunc
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// IsAlive reports whether a process with pid exists
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// ParentCheck returns a liveness check that fails once the parent process
// (the one that spawned us) is gone. A parent pid of 0 disables the check.
func ParentCheck(parentPID int) func() error {
	return func() error {
		if parentPID <= 0 {
			return nil
		}
		if os.Getppid() != parentPID || !IsAlive(parentPID) {
			return ErrParentGone
		}
		return nil
	}
}

// Signaler is the part of a process Terminate needs
type Signaler interface {
	Signal(sig os.Signal) error
	Kill() error
}

// Terminate sends SIGTERM and escalates to Kill when exited does not report
// the process gone within grace.
func Terminate(proc Signaler, grace time.Duration, exited func() bool) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return proc.Kill()
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if exited() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if exited() {
		return nil
	}
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
