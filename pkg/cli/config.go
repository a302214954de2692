package cli

import (
	"context"
	"time"

	pcontext "github.com/cookfarm/cookfarm/pkg/context"
)

// Config holds all CLI configuration, so commands never touch globals
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Version     string
	MaxWorkers  int
	Serial      bool
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
	}
}

// RuntimeConfig holds runtime configuration for one command invocation
type RuntimeConfig struct {
	Config    *Config
	Context   context.Context
	StartTime time.Time
	RunID     string
}

// NewRuntimeConfig creates a runtime configuration with context
func NewRuntimeConfig(cfg *Config, ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := pcontext.GenerateRunID()
	return &RuntimeConfig{
		Config:    cfg,
		Context:   pcontext.WithRunID(pcontext.WithStartTime(ctx, time.Now()), runID),
		StartTime: time.Now(),
		RunID:     runID,
	}
}
