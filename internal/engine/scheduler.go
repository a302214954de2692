package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/internal/metrics"
	pcontext "github.com/cookfarm/cookfarm/pkg/context"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// Options carries the scheduler's collaborators
type Options struct {
	Cooker    cook.Cooker
	Spawner   Spawner
	Notifier  Notifier
	Resources *Resources
	RunID     string
}

// Scheduler owns the authoritative table and stores and drives the workers
type Scheduler struct {
	cfg    *types.FarmConfig
	runID  string
	logger logger.Logger
	fsu    *utils.FileSystemUtils

	table   *metadata.Table
	stores  *content.Set
	merger  *MergeEngine
	monitor *CrashMonitor

	cooker    cook.Cooker
	spawner   Spawner
	notifier  Notifier
	resources Resources

	workers  []*WorkerHandle
	parallel bool
	merges   int
}

// New loads the authoritative table and prepares a run
func New(cfg *types.FarmConfig, log logger.Logger, opts Options) (*Scheduler, error) {
	if opts.Cooker == nil {
		return nil, fmt.Errorf("scheduler needs a cooker")
	}

	table, err := metadata.LoadOrNew(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = pcontext.GenerateRunID()
	}
	resources := DetectResources()
	if opts.Resources != nil {
		resources = *opts.Resources
	}

	fsu := utils.NewFileSystemUtils()
	stores := content.NewSet(cfg.StoreDir, "", cfg.Alignment)

	s := &Scheduler{
		cfg:       cfg,
		runID:     runID,
		logger:    log,
		fsu:       fsu,
		table:     table,
		stores:    stores,
		merger:    NewMergeEngine(table, stores, fsu, log),
		cooker:    opts.Cooker,
		spawner:   opts.Spawner,
		notifier:  opts.Notifier,
		resources: resources,
	}
	s.monitor = NewCrashMonitor(func() []*WorkerHandle { return s.workers }, cfg, log)
	return s, nil
}

// RunID returns the id that namespaces this run's owner tags
func (s *Scheduler) RunID() string { return s.runID }

// Table returns the authoritative table
func (s *Scheduler) Table() *metadata.Table { return s.table }

// Workers returns the worker handles of the current run
func (s *Scheduler) Workers() []*WorkerHandle { return s.workers }

// Run cooks jobs, in parallel when the host and job count allow it, and
// persists the authoritative state
func (s *Scheduler) Run(ctx context.Context, jobs []types.Job) (types.RunSummary, error) {
	start := time.Now()
	ctx = pcontext.StartOperation(pcontext.WithRunID(ctx, s.runID), "cook")
	log := logger.WithContext(ctx, s.logger)

	summary := types.RunSummary{RunID: s.runID, Jobs: len(jobs)}

	err := s.run(ctx, jobs)
	if err == nil {
		err = s.finalize()
	}
	if err != nil {
		s.abort()
		s.keepMerged()
		s.stores.Close()
		if s.notifier != nil {
			s.notifier.NotifyRunFailure(err)
		}
		return summary, err
	}

	summary.Workers = len(s.workers)
	summary.Parallel = s.parallel
	summary.Merges = s.merges
	summary.WastedBytes = s.table.WastedBytes
	summary.Duration = time.Since(start)

	log.Success("Cook complete",
		logger.WithField("jobs", summary.Jobs),
		logger.WithField("workers", summary.Workers),
		logger.WithField("merges", summary.Merges),
		logger.WithField("wasted", utils.FormatBytes(summary.WastedBytes)))
	if s.notifier != nil {
		s.notifier.NotifyRunSuccess(summary)
	}
	return summary, nil
}

func (s *Scheduler) run(ctx context.Context, jobs []types.Job) error {
	messages := len(jobs)
	if len(s.cfg.StartupBatch) > 0 {
		messages++
	}

	parallel, err := s.StartWorkers(ctx, messages)
	if err != nil {
		return err
	}
	if !parallel {
		return s.cookSerial(ctx, jobs)
	}
	if err := s.DispatchLoop(ctx, jobs); err != nil {
		return err
	}
	return s.Drain(ctx)
}

// StartWorkers sizes the pool and spawns the workers. It returns false
// without error when the run should be cooked serially.
func (s *Scheduler) StartWorkers(ctx context.Context, jobCount int) (bool, error) {
	pool := types.PoolConfig{}
	if s.cfg.Pool != nil {
		pool = *s.cfg.Pool
	}
	plan := PlanWorkers(PoolInput{Jobs: jobCount, Resources: s.resources, Pool: pool})
	if !plan.Parallel() || s.spawner == nil {
		reason := plan.Reason
		if reason == "" {
			reason = "no spawner configured"
		}
		s.logger.Info("Cooking serially", logger.WithField("reason", reason))
		return false, nil
	}

	// Workers load the table from disk and never see unsaved state.
	if err := metadata.Save(s.fsu, s.cfg.MetadataPath, s.table); err != nil {
		return false, err
	}
	if err := s.stores.Sync(); err != nil {
		return false, fmt.Errorf("flush authoritative stores: %w", err)
	}

	for i := 0; i < plan.Workers; i++ {
		owner := layout.OwnerID(s.runID, i)
		spec := WorkerSpec{Index: i, Owner: owner, Dir: layout.ForWorker(s.cfg.WorkDir, owner), RunID: s.runID}

		if err := s.fsu.RemoveDirectory(spec.Dir.Path()); err != nil {
			return false, err
		}
		if err := s.fsu.CreateDirectory(spec.Dir.Path()); err != nil {
			return false, fmt.Errorf("create worker directory: %w", err)
		}

		proc, err := s.spawner.Spawn(ctx, spec)
		if err != nil {
			return false, err
		}
		s.workers = append(s.workers, newHandle(spec, proc, s.fsu))
		metrics.Workers.Inc()
	}

	s.parallel = true
	s.logger.Info("Started workers",
		logger.WithField("workers", plan.Workers),
		logger.WithField("run", s.runID))
	return true, nil
}

// cookSerial cooks every job in-process against the authoritative state.
// Records are written with an empty owner, so nothing ever needs merging.
func (s *Scheduler) cookSerial(ctx context.Context, jobs []types.Job) error {
	env := &cook.Env{View: s.table, Stores: s.stores, DefaultStore: s.cfg.StoreName()}

	all := make([]types.Job, 0, len(s.cfg.StartupBatch)+len(jobs))
	for _, job := range s.cfg.StartupBatch {
		all = append(all, types.Job(job))
	}
	all = append(all, jobs...)

	for _, job := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		metrics.RecordDispatch("serial", 0)

		jctx := pcontext.WithJob(ctx, job.String())
		log := logger.WithContext(jctx, s.logger)

		res, err := s.cooker.Cook(jctx, job, env)
		if err != nil {
			log.Warn("Cook failed", logger.WithError(err))
			continue
		}
		if err := s.cooker.Persist(jctx, job, res, s.table); err != nil {
			log.Warn("Persist failed", logger.WithError(err))
			continue
		}
		metrics.JobsCompleted.Inc()
		if res.Skipped {
			log.Debug("Up to date")
		} else {
			log.Info("Cooked", logger.WithField("payloads", len(res.Keys)))
		}
	}
	return nil
}

// finalize refuses to persist a table that still references private stores
func (s *Scheduler) finalize() error {
	if s.table.NeedsSync() {
		return fmt.Errorf("%w: %v", ErrUnmergedRecords, s.table.PrivateKeys())
	}
	if err := s.table.CheckDisjoint(s.stores.Alignment()); err != nil {
		return err
	}
	if err := metadata.Save(s.fsu, s.cfg.MetadataPath, s.table); err != nil {
		return err
	}
	if err := s.stores.Close(); err != nil {
		return fmt.Errorf("close authoritative stores: %w", err)
	}

	metrics.WastedBytes.Set(float64(s.table.WastedBytes))
	if err := metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
		s.logger.Warn("Could not export metrics", logger.WithError(err))
	}
	return nil
}

// keepMerged saves the authoritative table after a failed run so bytes
// already merged stay addressable and their waste stays counted. A table
// that fails its own checks is left alone.
func (s *Scheduler) keepMerged() {
	if s.table.NeedsSync() {
		return
	}
	if err := s.table.CheckDisjoint(s.stores.Alignment()); err != nil {
		s.logger.Warn("Not saving metadata of failed run", logger.WithError(err))
		return
	}
	if err := s.stores.Sync(); err != nil {
		s.logger.Warn("Not saving metadata of failed run", logger.WithError(err))
		return
	}
	if err := metadata.Save(s.fsu, s.cfg.MetadataPath, s.table); err != nil {
		s.logger.Warn("Could not save metadata of failed run", logger.WithError(err))
		return
	}
	s.logger.Info("Saved merged records of failed run",
		logger.WithField("records", s.table.Len()),
		logger.WithField("wasted", utils.FormatBytes(s.table.WastedBytes)))
}

// abort terminates any worker still running and replays their logs. Worker
// directories are kept for inspection.
func (s *Scheduler) abort() {
	if len(s.workers) == 0 {
		return
	}
	s.monitor.TerminateAll()
	if s.spawner != nil {
		if err := s.spawner.Wait(); err != nil {
			s.logger.Warn("Reaper failed", logger.WithError(err))
		}
	}
	for _, h := range s.workers {
		if !s.fsu.Exists(h.Dir.Path()) {
			continue
		}
		if _, err := ReplayLog(s.logger, h.Index, h.Dir.Log()); err != nil {
			s.logger.Warn("Could not replay worker log", logger.WithField("worker", h.Index), logger.WithError(err))
		}
		s.logger.Info("Kept worker directory", logger.WithField("worker", h.Index), logger.WithField("dir", h.Dir.Path()))
	}
	if err := metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
		s.logger.Warn("Could not export metrics", logger.WithError(err))
	}
}

// sleep waits one poll interval or until ctx is done
func (s *Scheduler) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Timeouts.PollIntervalDuration()):
		return nil
	}
}
