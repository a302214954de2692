package engine

import (
	"syscall"
	"time"

	"github.com/cookfarm/cookfarm/internal/metrics"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/process"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// DefaultCrashMarkers are the log substrings that identify crash output
var DefaultCrashMarkers = []string{"Critical error", "panic:", "fatal error:"}

// DefaultCrashTailLines bounds how many marker lines a crash report keeps
const DefaultCrashTailLines = 20

// CrashMonitor notices workers that exit on their own and aborts the run
type CrashMonitor struct {
	workers   func() []*WorkerHandle
	markers   []string
	tailLines int
	grace     time.Duration
	logger    logger.Logger
}

// NewCrashMonitor creates a monitor over the handles returned by workers
func NewCrashMonitor(workers func() []*WorkerHandle, cfg *types.FarmConfig, log logger.Logger) *CrashMonitor {
	m := &CrashMonitor{
		workers:   workers,
		markers:   DefaultCrashMarkers,
		tailLines: DefaultCrashTailLines,
		grace:     cfg.Timeouts.GracePeriodDuration(),
		logger:    log,
	}
	if cfg.Crash != nil {
		if len(cfg.Crash.Markers) > 0 {
			m.markers = cfg.Crash.Markers
		}
		if cfg.Crash.TailLines > 0 {
			m.tailLines = cfg.Crash.TailLines
		}
	}
	return m
}

// PollLiveness checks every running worker. A worker that exited without
// having been sent stop aborts the run with a *CrashError.
func (m *CrashMonitor) PollLiveness() error {
	for _, h := range m.workers() {
		if h.State == types.WorkerStateStopped || h.StopSent {
			continue
		}
		if done, code := h.Proc.Exited(); done {
			return m.Abort(h, code, false)
		}
	}
	return nil
}

// Abort terminates every other worker, waits out the grace period and
// builds the crash report from the workers' logs
func (m *CrashMonitor) Abort(crashed *WorkerHandle, code int, afterStop bool) error {
	metrics.WorkerCrashes.Inc()
	m.logger.Error("Worker crashed, aborting run",
		logger.WithField("worker", crashed.Index),
		logger.WithField("exit_code", code),
		logger.WithField("job", crashed.CurrentJob))

	if crashed.State != types.WorkerStateStopped {
		crashed.State = types.WorkerStateStopped
		metrics.Workers.Dec()
	}
	m.TerminateAll()

	crashErr := &CrashError{
		Worker:    crashed.Index,
		Owner:     crashed.Owner,
		ExitCode:  code,
		AfterStop: afterStop,
	}
	for _, h := range m.workers() {
		lines, err := ScanMarkers(h.Dir.Log(), m.markers, m.tailLines)
		if err != nil {
			m.logger.Warn("Could not scan worker log", logger.WithField("worker", h.Index), logger.WithError(err))
			continue
		}
		if h == crashed {
			crashErr.Lines = lines
		}
		for _, line := range lines {
			m.logger.WithWorker(h.Index).Error(line)
		}
	}
	return crashErr
}

// TerminateAll sends SIGTERM to every live worker and kills the ones still
// running after the grace period
func (m *CrashMonitor) TerminateAll() {
	var live []*WorkerHandle
	for _, h := range m.workers() {
		if h.State != types.WorkerStateStopped && !h.exited() {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return
	}

	for _, h := range live {
		if err := h.Proc.Signal(syscall.SIGTERM); err != nil {
			m.logger.Debug("SIGTERM failed", logger.WithField("worker", h.Index), logger.WithError(err))
		}
	}

	deadline := time.Now().Add(m.grace)
	for time.Now().Before(deadline) && anyRunning(live) {
		time.Sleep(10 * time.Millisecond)
	}

	for _, h := range live {
		if !h.exited() {
			if err := process.Terminate(h.Proc, 0, h.exited); err != nil {
				m.logger.Warn("Failed to kill worker", logger.WithField("worker", h.Index), logger.WithError(err))
			}
		}
		h.State = types.WorkerStateStopped
		metrics.Workers.Dec()
	}
}

func anyRunning(handles []*WorkerHandle) bool {
	for _, h := range handles {
		if !h.exited() {
			return true
		}
	}
	return false
}
