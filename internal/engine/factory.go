package engine

import (
	"context"

	"github.com/cookfarm/cookfarm/internal/cook"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/notifier"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// DependencyFactory creates the default collaborators of a scheduler.
// Constructors never fall back to concrete implementations on their own.
type DependencyFactory struct {
	config     *types.FarmConfig
	logger     logger.Logger
	workerArgs []string
}

// NewDependencyFactory creates a factory. workerArgs are the arguments a
// spawned worker is started with, before the worker flags.
func NewDependencyFactory(config *types.FarmConfig, log logger.Logger, workerArgs []string) *DependencyFactory {
	return &DependencyFactory{
		config:     config,
		logger:     log,
		workerArgs: workerArgs,
	}
}

// CreateDefaults creates the production cooker, spawner and notifier
func (f *DependencyFactory) CreateDefaults(ctx context.Context) (Options, error) {
	spawner, err := NewExecSpawner(ctx, f.workerArgs, f.logger)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Cooker:  cook.NewFileCooker(f.config),
		Spawner: spawner,
	}
	if f.config.NotificationsEnabled() {
		opts.Notifier = notifier.New(notifier.Config{Enabled: true}, f.logger)
	}
	return opts, nil
}

// CreateWithOverrides creates the defaults and replaces every one that
// overrides sets
func (f *DependencyFactory) CreateWithOverrides(ctx context.Context, overrides Options) (Options, error) {
	opts, err := f.CreateDefaults(ctx)
	if err != nil {
		return Options{}, err
	}

	if overrides.Cooker != nil {
		opts.Cooker = overrides.Cooker
	}
	if overrides.Spawner != nil {
		opts.Spawner = overrides.Spawner
	}
	if overrides.Notifier != nil {
		opts.Notifier = overrides.Notifier
	}
	if overrides.Resources != nil {
		opts.Resources = overrides.Resources
	}
	if overrides.RunID != "" {
		opts.RunID = overrides.RunID
	}
	return opts, nil
}
