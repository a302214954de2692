package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cookfarm/cookfarm/internal/metrics"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// Drain stops every worker once it is observed idle, waits for it to exit,
// merges its final fragment, replays its log and deletes its directory.
// Stop is never sent to a busy worker.
func (s *Scheduler) Drain(ctx context.Context) error {
	exitTimeout := s.cfg.Timeouts.ExitTimeoutDuration()

	for s.running() > 0 {
		progressed, err := s.tick(ctx)
		if err != nil {
			return err
		}

		for _, h := range s.workers {
			if h.State == types.WorkerStateStopped {
				continue
			}

			if !h.StopSent {
				if h.State != types.WorkerStateIdle {
					continue
				}
				if err := h.Commands.Send(types.CommandStop); err != nil {
					return fmt.Errorf("stop worker %d: %w", h.Index, err)
				}
				h.StopSent = true
				h.StopTime = time.Now()
				progressed = true
				continue
			}

			done, code := h.Proc.Exited()
			if !done {
				if exitTimeout > 0 && time.Since(h.StopTime) > exitTimeout {
					return fmt.Errorf("%w: worker %d did not exit within %s of stop", ErrTimeout, h.Index, exitTimeout)
				}
				continue
			}
			if code != 0 {
				return s.monitor.Abort(h, code, true)
			}
			if err := s.retire(h); err != nil {
				return err
			}
			progressed = true
		}

		if !progressed {
			if err := s.sleep(ctx); err != nil {
				return err
			}
		}
	}

	if err := s.spawner.Wait(); err != nil {
		return fmt.Errorf("reap workers: %w", err)
	}
	return nil
}

// retire collects everything an exited worker left behind
func (s *Scheduler) retire(h *WorkerHandle) error {
	stats, merged, err := s.merger.MergeWorker(h.Owner, h.Dir, "drain")
	if err != nil {
		return fmt.Errorf("final merge of worker %d: %w", h.Index, err)
	}
	if merged {
		s.merges++
		h.BytesContributed += stats.Bytes
	}

	if _, err := ReplayLog(s.logger, h.Index, h.Dir.Log()); err != nil {
		s.logger.Warn("Could not replay worker log", logger.WithField("worker", h.Index), logger.WithError(err))
	}
	if err := s.fsu.RemoveDirectory(h.Dir.Path()); err != nil {
		return fmt.Errorf("remove worker directory: %w", err)
	}

	h.State = types.WorkerStateStopped
	metrics.Workers.Dec()
	s.logger.Debug("Worker retired",
		logger.WithField("worker", h.Index),
		logger.WithField("jobs", h.JobsCompleted),
		logger.WithField("bytes", h.BytesContributed))
	return nil
}

func (s *Scheduler) running() int {
	n := 0
	for _, h := range s.workers {
		if h.State != types.WorkerStateStopped {
			n++
		}
	}
	return n
}
