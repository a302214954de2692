package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/internal/metrics"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// DispatchLoop hands every job to exactly one worker, round-robin. It blocks
// while no worker is idle, servicing sync requests and checking liveness.
func (s *Scheduler) DispatchLoop(ctx context.Context, jobs []types.Job) error {
	messages := make([]string, 0, len(jobs)+1)
	if len(s.cfg.StartupBatch) > 0 {
		messages = append(messages, types.CommandStartupBatch)
	}
	for _, job := range jobs {
		messages = append(messages, job.String())
	}

	next := 0
	for _, msg := range messages {
		waitStart := time.Now()
		for {
			progressed, err := s.tick(ctx)
			if err != nil {
				return err
			}

			if h := s.nextIdle(&next); h != nil {
				if err := s.dispatch(h, msg); err != nil {
					return err
				}
				metrics.RecordDispatch("parallel", time.Since(waitStart))
				break
			}

			if !progressed {
				if err := s.sleep(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// tick runs one pass of the scheduler's housekeeping: liveness, sync
// requests and worker states. It reports whether any sync was serviced.
func (s *Scheduler) tick(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.monitor.PollLiveness(); err != nil {
		return false, err
	}
	progressed, err := s.serviceSyncRequests()
	if err != nil {
		return false, err
	}
	if err := s.refreshStates(); err != nil {
		return false, err
	}
	return progressed, nil
}

func (s *Scheduler) dispatch(h *WorkerHandle, msg string) error {
	if err := h.Commands.Send(msg); err != nil {
		return fmt.Errorf("dispatch to worker %d: %w", h.Index, err)
	}
	h.State = types.WorkerStateBusy
	h.CurrentJob = msg
	h.LastDispatch = time.Now()
	s.logger.Debug("Dispatched", logger.WithField("worker", h.Index), logger.WithField("job", msg))
	return nil
}

// nextIdle returns the first idle worker at or after *next, advancing *next
// past it
func (s *Scheduler) nextIdle(next *int) *WorkerHandle {
	n := len(s.workers)
	for i := 0; i < n; i++ {
		idx := (*next + i) % n
		h := s.workers[idx]
		if h.State == types.WorkerStateIdle && !h.StopSent {
			*next = (idx + 1) % n
			return h
		}
	}
	return nil
}

// refreshStates moves busy workers to idle once their job is complete and
// fails when a command sat unread for longer than the command timeout
func (s *Scheduler) refreshStates() error {
	timeout := s.cfg.Timeouts.CommandTimeoutDuration()
	for _, h := range s.workers {
		if h.State != types.WorkerStateBusy {
			continue
		}
		if h.observedIdle(s.fsu) {
			h.State = types.WorkerStateIdle
			h.JobsCompleted++
			h.CurrentJob = ""
			metrics.JobsCompleted.Inc()
			continue
		}
		if timeout > 0 && h.Commands.Pending() && time.Since(h.LastDispatch) > timeout {
			return fmt.Errorf("%w: worker %d did not pick up %q within %s", ErrTimeout, h.Index, h.CurrentJob, timeout)
		}
	}
	return nil
}

// serviceSyncRequests merges the fragment of every worker that asked for a
// sync and writes it a fresh snapshot
func (s *Scheduler) serviceSyncRequests() (bool, error) {
	progressed := false
	for _, h := range s.workers {
		if h.State == types.WorkerStateStopped {
			continue
		}
		if !h.Requests.Pending() || s.fsu.Exists(h.Dir.Snapshot()) {
			continue
		}
		msg, _, err := h.Requests.Peek()
		if err != nil {
			return progressed, err
		}
		if msg != types.CommandSync {
			return progressed, fmt.Errorf("worker %d sent unknown request %q", h.Index, msg)
		}

		stats, _, err := s.merger.MergeWorker(h.Owner, h.Dir, "sync")
		if err != nil {
			return progressed, fmt.Errorf("merge worker %d: %w", h.Index, err)
		}
		if err := metadata.Save(s.fsu, h.Dir.Snapshot(), s.table); err != nil {
			return progressed, err
		}
		h.BytesContributed += stats.Bytes
		s.merges++
		progressed = true
	}
	return progressed, nil
}
