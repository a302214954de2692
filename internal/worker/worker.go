// Package worker implements the process side of the cook farm: it receives
// jobs over its command slot, cooks them into private stores and syncs with
// the scheduler before persisting output.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cookfarm/cookfarm/internal/channel"
	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/internal/metadata"
	pcontext "github.com/cookfarm/cookfarm/pkg/context"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// CrashMarker starts the line a worker logs before exiting on a fatal error
const CrashMarker = "Critical error:"

// Config identifies one worker
type Config struct {
	Index int
	Owner string
	Dir   layout.WorkerDir
	Farm  *types.FarmConfig

	// Alive is consulted inside every blocking wait; nil means always alive.
	Alive func() error
}

// Worker cooks jobs sent by the scheduler
type Worker struct {
	cfg    Config
	farm   *types.FarmConfig
	cooker cook.Cooker
	log    logger.Logger
	fsu    *utils.FileSystemUtils

	overlay  *metadata.Overlay
	stores   *content.Set
	waiter   *channel.Waiter
	commands *channel.Channel
	requests *channel.Channel

	jobs  int
	syncs int
}

// New creates a worker
func New(cfg Config, cooker cook.Cooker, log logger.Logger) *Worker {
	if cfg.Alive == nil {
		cfg.Alive = func() error { return nil }
	}
	return &Worker{
		cfg:    cfg,
		farm:   cfg.Farm,
		cooker: cooker,
		log:    log.WithWorker(cfg.Index),
		fsu:    utils.NewFileSystemUtils(),
	}
}

// Run processes commands until stop arrives or a fatal error occurs
func (w *Worker) Run(ctx context.Context) error {
	ctx = pcontext.WithWorker(ctx, w.cfg.Index)

	if err := w.fsu.CreateDirectory(w.cfg.Dir.Path()); err != nil {
		return fmt.Errorf("create worker directory: %w", err)
	}

	snapshot, err := metadata.LoadOrNew(w.farm.MetadataPath)
	if err != nil {
		return fmt.Errorf("load authoritative snapshot: %w", err)
	}
	w.overlay = metadata.NewOverlay(snapshot, nil)
	w.stores = content.NewSet(w.cfg.Dir.Path(), w.cfg.Owner, w.farm.Alignment)
	defer w.stores.Close()

	w.waiter = channel.NewWaiter(w.cfg.Dir.Path(), w.farm.Timeouts.PollIntervalDuration())
	defer w.waiter.Close()
	w.commands = channel.New(w.cfg.Dir.Command(), w.waiter, w.fsu)
	w.requests = channel.New(w.cfg.Dir.Request(), w.waiter, w.fsu)

	w.log.Info("Worker started",
		logger.WithField("owner", w.cfg.Owner),
		logger.WithField("records", snapshot.Len()),
		logger.WithField("events", w.waiter.Notifying()))

	for {
		msg, err := w.commands.Receive(ctx, w.farm.Timeouts.IdleTimeoutDuration(), w.markBusy, w.cfg.Alive)
		if err != nil {
			return fmt.Errorf("wait for command: %w", err)
		}

		switch msg {
		case types.CommandStop:
			if err := w.finish(); err != nil {
				return err
			}
			w.log.Info("Worker stopping",
				logger.WithField("jobs", w.jobs),
				logger.WithField("syncs", w.syncs))
			return w.clearBusy()

		case types.CommandStartupBatch:
			for _, job := range w.farm.StartupBatch {
				if err := w.cookOne(ctx, types.Job(job)); err != nil {
					return err
				}
			}

		case types.CommandSync:
			if w.overlay.NeedsSync() {
				if err := w.sync(ctx); err != nil {
					return err
				}
			}

		default:
			if err := w.cookOne(ctx, types.Job(msg)); err != nil {
				return err
			}
		}

		if err := w.clearBusy(); err != nil {
			return err
		}
	}
}

func (w *Worker) markBusy(msg string) error {
	return w.fsu.WriteFile(w.cfg.Dir.Busy(), []byte(msg))
}

func (w *Worker) clearBusy() error {
	return w.fsu.Remove(w.cfg.Dir.Busy())
}

// cookOne cooks a job. Cook failures are logged and skipped; only broken
// sync or persistence invariants are fatal.
func (w *Worker) cookOne(ctx context.Context, job types.Job) error {
	ctx = pcontext.StartOperation(pcontext.WithJob(ctx, job.String()), "cook")
	log := logger.WithContext(ctx, w.log)

	env := &cook.Env{View: w.overlay, Stores: w.stores, DefaultStore: w.farm.StoreName()}
	res, err := w.cooker.Cook(ctx, job, env)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn("Cook failed", logger.WithError(err))
		return nil
	}
	w.jobs++

	if res.Skipped {
		log.Debug("Up to date")
		return nil
	}

	if w.overlay.NeedsSync() {
		if err := w.sync(ctx); err != nil {
			return err
		}
	}

	if err := w.cooker.Persist(ctx, job, res, w.overlay); err != nil {
		if errors.Is(err, cook.ErrPrivateRecord) {
			return err
		}
		log.Warn("Persist failed", logger.WithError(err))
		return nil
	}

	log.Info("Cooked", logger.WithField("payloads", len(res.Keys)))
	return nil
}

// sync hands the fragment to the scheduler and waits for the merged snapshot
func (w *Worker) sync(ctx context.Context) error {
	if err := w.flushFragment(); err != nil {
		return err
	}
	if err := w.requests.Send(types.CommandSync); err != nil {
		return fmt.Errorf("request sync: %w", err)
	}

	timeout := w.farm.Timeouts.SyncTimeoutDuration()
	if err := channel.WaitForFile(ctx, w.waiter, w.cfg.Dir.Snapshot(), timeout, w.cfg.Alive); err != nil {
		return fmt.Errorf("wait for merged snapshot: %w", err)
	}

	snapshot, err := metadata.Load(w.cfg.Dir.Snapshot())
	if err != nil {
		return err
	}
	w.overlay.Rebase(snapshot)

	if err := w.requests.Clear(); err != nil {
		return fmt.Errorf("clear sync request: %w", err)
	}
	if err := w.fsu.Remove(w.cfg.Dir.Snapshot()); err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}

	w.syncs++
	w.log.Debug("Synced", logger.WithField("records", snapshot.Len()))
	return nil
}

// flushFragment closes the private stores and writes the fragment file
func (w *Worker) flushFragment() error {
	if err := w.stores.Close(); err != nil {
		return fmt.Errorf("close private stores: %w", err)
	}
	if err := metadata.Save(w.fsu, w.cfg.Dir.Fragment(), w.overlay.Fragment); err != nil {
		return err
	}
	return nil
}

// finish leaves anything not yet merged for the scheduler's final merge
func (w *Worker) finish() error {
	if w.overlay.Fragment.Empty() {
		return w.stores.Close()
	}
	return w.flushFragment()
}
