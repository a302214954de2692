package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/internal/engine"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/internal/state"
	"github.com/cookfarm/cookfarm/internal/worker"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/process"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
	"github.com/cookfarm/cookfarm/pkg/validation"
)

// ErrWorkerFailed is returned by a worker invocation that already logged
// its crash line
var ErrWorkerFailed = errors.New("worker failed")

// ErrNoSourceRoot is returned when targets must be listed from a source
// root that is not a directory
var ErrNoSourceRoot = errors.New("source root does not exist")

type workerFlags struct {
	index int
	dir   string
	runID string
}

func (c *CLI) newCookCmd() *cobra.Command {
	wf := workerFlags{index: -1}

	cmd := &cobra.Command{
		Use:   "cook [targets...]",
		Short: "Cook targets, in parallel when the host allows it",
		Long: `Cook the given targets, the targets listed in the config, or every file
under the source root. Globs select from the files under the source root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wf.index >= 0 {
				return c.runWorker(cmd.Context(), wf)
			}
			return c.runCook(cmd.Context(), args)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&c.config.MaxWorkers, "max-workers", 0, "upper bound on worker processes (0: size from the host)")
	flags.BoolVar(&c.config.Serial, "serial", false, "cook in this process without workers")
	c.viper.BindPFlag("max-workers", flags.Lookup("max-workers"))
	c.viper.BindPFlag("serial", flags.Lookup("serial"))

	flags.IntVar(&wf.index, engine.FlagWorkerIndex, -1, "worker index")
	flags.StringVar(&wf.dir, engine.FlagWorkerDir, "", "worker directory")
	flags.StringVar(&wf.runID, engine.FlagRunID, "", "run id of the spawning scheduler")
	for _, name := range []string{engine.FlagWorkerIndex, engine.FlagWorkerDir, engine.FlagRunID} {
		flags.MarkHidden(name)
	}

	return cmd
}

func (c *CLI) runCook(ctx context.Context, args []string) error {
	cfg, cfgPath, err := c.loadFarmConfig()
	if err != nil {
		return err
	}
	log := c.newLogger(cfg)

	jobs, err := DiscoverTargets(cfg, args)
	if err != nil {
		return err
	}
	if len(jobs) == 0 && len(cfg.StartupBatch) == 0 {
		c.printWarning("Nothing to cook")
		return nil
	}
	if err := c.checkTargets(cfg, jobs); err != nil {
		return err
	}

	rt := NewRuntimeConfig(c.config, ctx)
	ctx, cancel := context.WithCancel(rt.Context)
	defer cancel()

	runs := state.NewStateManager(filepath.Dir(cfg.MetadataPath), log)
	if err := runs.Acquire(rt.RunID); err != nil {
		return err
	}
	abort := func(err error) error {
		runs.Finish(types.RunSummary{RunID: rt.RunID}, err)
		return err
	}

	pm := process.NewManager(log)
	pm.RegisterShutdownHandler(cancel)
	pm.SetHeartbeat(state.DefaultStaleAfter/3, runs.Touch)
	pm.Start(ctx)
	defer pm.Stop()

	workerArgs := []string{"cook", "--config", cfgPath, "--verbosity", c.logLevel(cfg)}
	factory := engine.NewDependencyFactory(cfg, log, workerArgs)
	opts, err := factory.CreateWithOverrides(ctx, engine.Options{RunID: rt.RunID})
	if err != nil {
		return abort(err)
	}

	scheduler, err := engine.New(cfg, log, opts)
	if err != nil {
		return abort(err)
	}

	log.Info("Cooking",
		logger.WithField("jobs", len(jobs)),
		logger.WithField("startup_batch", len(cfg.StartupBatch)),
		logger.WithField("run", rt.RunID))

	summary, err := scheduler.Run(ctx, jobs)
	if ferr := runs.Finish(summary, err); ferr != nil {
		log.Warn("Failed to record run outcome", logger.WithError(ferr))
	}
	if err != nil {
		return fmt.Errorf("cook failed: %w", err)
	}

	mode := "serially"
	if summary.Parallel {
		mode = fmt.Sprintf("on %d workers", summary.Workers)
	}
	c.printSuccess(fmt.Sprintf("Cooked %d targets %s in %s (%d merges, %s wasted)",
		summary.Jobs, mode, summary.Duration.Round(time.Millisecond), summary.Merges, utils.FormatBytes(summary.WastedBytes)))
	return nil
}

// runWorker is the process side of a parallel run. Its stdout is the
// worker log the scheduler replays.
func (c *CLI) runWorker(ctx context.Context, wf workerFlags) error {
	cfg, _, err := c.loadFarmConfig()
	if err != nil {
		fmt.Fprintf(c.output, "%s %v\n", worker.CrashMarker, err)
		return ErrWorkerFailed
	}
	log := logger.CreateLoggerWithOutput("", c.logLevel(cfg), c.output)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pm := process.NewManager(log)
	pm.RegisterShutdownHandler(cancel)
	pm.Start(ctx)
	defer pm.Stop()

	owner := layout.OwnerID(wf.runID, wf.index)
	dir := layout.WorkerDir(wf.dir)
	if dir.Path() == "" {
		dir = layout.ForWorker(cfg.WorkDir, owner)
	}

	w := worker.New(worker.Config{
		Index: wf.index,
		Owner: owner,
		Dir:   dir,
		Farm:  cfg,
		Alive: process.ParentCheck(os.Getppid()),
	}, cook.NewFileCooker(cfg), log)

	if err := w.Run(ctx); err != nil {
		log.Error(worker.CrashMarker + " " + err.Error())
		return ErrWorkerFailed
	}
	return nil
}

// DiscoverTargets returns the jobs of a run: explicit args first, then the
// config's targets, then every file under the source root. Startup batch
// entries are cooked separately and never returned.
func DiscoverTargets(cfg *types.FarmConfig, args []string) ([]types.Job, error) {
	include := args
	if len(include) == 0 {
		include = cfg.Targets
	}

	var files []string
	if needsListing(include) {
		if info, err := os.Stat(cfg.SourceRoot); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNoSourceRoot, cfg.SourceRoot)
		}
		var err error
		files, err = utils.NewFileSystemUtils().ListFiles(cfg.SourceRoot)
		if err != nil {
			return nil, fmt.Errorf("list source root: %w", err)
		}
	}

	exclude := append([]string{"*" + cook.ManifestSuffix}, cfg.Exclude...)
	for _, dir := range []string{cfg.OutputRoot, cfg.StoreDir, cfg.WorkDir, filepath.Dir(cfg.MetadataPath)} {
		if rel, ok := within(cfg.SourceRoot, dir); ok {
			exclude = append(exclude, rel+"/**")
		}
	}

	targets, err := utils.SelectTargets(files, include, exclude)
	if err != nil {
		return nil, err
	}

	startup := make(map[string]bool, len(cfg.StartupBatch))
	for _, s := range cfg.StartupBatch {
		startup[s] = true
	}
	jobs := make([]types.Job, 0, len(targets))
	for _, t := range targets {
		if !startup[t] && !types.IsReserved(t) {
			jobs = append(jobs, types.Job(t))
		}
	}
	return jobs, nil
}

// checkTargets rejects jobs a worker could not cook before any process
// is spawned
func (c *CLI) checkTargets(cfg *types.FarmConfig, jobs []types.Job) error {
	result := validation.NewTargetValidator(cfg.SourceRoot).ValidateMultiple(cfg.StartupBatch, jobs)
	for _, w := range result.Warnings() {
		c.printWarning(w.Error())
	}
	return result.Err()
}

func needsListing(include []string) bool {
	if len(include) == 0 {
		return true
	}
	for _, p := range include {
		if utils.IsGlobPattern(p) {
			return true
		}
	}
	return false
}

// within returns dir relative to root when dir lies strictly inside root
func within(root, dir string) (string, bool) {
	if root == "" || dir == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func isWorkerInvocation(args []string) bool {
	for _, a := range args {
		if a == "--"+engine.FlagWorkerIndex || strings.HasPrefix(a, "--"+engine.FlagWorkerIndex+"=") {
			return true
		}
	}
	return false
}
