// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cookfarm/cookfarm/pkg/types"
)

// Default file names, searched in this order when no path is given.
var DefaultConfigFiles = []string{"cookfarm.config.yaml", "cookfarm.config.yml", "cookfarm.config.json"}

// Default locations, relative to the config file's directory.
const (
	DefaultStateDir     = ".cookfarm"
	DefaultMetadataFile = "metadata.meta"
	DefaultOutputRoot   = "cooked"
)

// Default timeouts in milliseconds
const (
	DefaultPollInterval   = 50
	DefaultCommandTimeout = 60_000
	DefaultSyncTimeout    = 120_000
	DefaultExitTimeout    = 30_000
	DefaultIdleTimeout    = 600_000
	DefaultGracePeriod    = 2_000
)

// DefaultMinMipSize is the smallest mip level the reference cooker produces
const DefaultMinMipSize = 64

// ErrNoConfig indicates that no configuration file could be found
var ErrNoConfig = errors.New("no configuration file found")

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns path when set, otherwise the first default config file
// present in dir
func (m *Manager) FindConfig(path, dir string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, name := range DefaultConfigFiles {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %v)", ErrNoConfig, dir, DefaultConfigFiles)
}

// LoadConfig loads, defaults and validates a configuration file. Relative
// paths in the file are resolved against the file's directory.
func (m *Manager) LoadConfig(path string) (*types.FarmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := m.parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	m.ApplyDefaults(cfg)
	ResolvePaths(cfg, filepath.Dir(abs))

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) parse(data []byte) (*types.FarmConfig, error) {
	var cfg types.FarmConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return &cfg, nil
	}

	cfg = types.FarmConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset optional field
func (m *Manager) ApplyDefaults(cfg *types.FarmConfig) {
	if cfg.Version == "" {
		cfg.Version = types.ConfigVersion
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = DefaultOutputRoot
	}
	if cfg.MetadataPath == "" {
		cfg.MetadataPath = filepath.Join(DefaultStateDir, DefaultMetadataFile)
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = filepath.Join(DefaultStateDir, "stores")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(DefaultStateDir, "work")
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = types.DefaultAlignment
	}
	if cfg.DefaultStore == "" {
		cfg.DefaultStore = types.DefaultStoreName
	}
	if cfg.CookerVersion == "" {
		cfg.CookerVersion = "1"
	}
	if cfg.MinMipSize == 0 {
		cfg.MinMipSize = DefaultMinMipSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = types.LogLevelInfo
	}
	if cfg.Pool == nil {
		cfg.Pool = &types.PoolConfig{}
	}

	if cfg.Timeouts == nil {
		cfg.Timeouts = &types.TimeoutConfig{}
	}
	t := cfg.Timeouts
	setDefault(&t.PollInterval, DefaultPollInterval)
	setDefault(&t.CommandTimeout, DefaultCommandTimeout)
	setDefault(&t.SyncTimeout, DefaultSyncTimeout)
	setDefault(&t.ExitTimeout, DefaultExitTimeout)
	setDefault(&t.IdleTimeout, DefaultIdleTimeout)
	setDefault(&t.GracePeriod, DefaultGracePeriod)
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// ResolvePaths makes every relative path in cfg absolute against base.
// Workers run inside their own directory and rely on this.
func ResolvePaths(cfg *types.FarmConfig, base string) {
	for _, p := range []*string{&cfg.SourceRoot, &cfg.OutputRoot, &cfg.MetadataPath, &cfg.StoreDir, &cfg.WorkDir, &cfg.MetricsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.FarmConfig) error {
	if cfg.Version != types.ConfigVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}
	if cfg.SourceRoot == "" {
		return fmt.Errorf("sourceRoot is required")
	}
	if cfg.Alignment < 1 || cfg.Alignment&(cfg.Alignment-1) != 0 {
		return fmt.Errorf("alignment must be a power of two, got %d", cfg.Alignment)
	}
	if !types.ValidStoreName(cfg.StoreName()) {
		return fmt.Errorf("invalid default store name %q", cfg.DefaultStore)
	}
	if cfg.MinMipSize < 0 {
		return fmt.Errorf("minMipSize must not be negative")
	}

	switch cfg.LogLevel {
	case "", types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if p := cfg.Pool; p != nil {
		if p.MaxWorkers < 0 || p.ReservedCores < 0 || p.MemoryPerWorkerMB < 0 || p.ReservedMemoryMB < 0 {
			return fmt.Errorf("pool settings must not be negative")
		}
	}
	if t := cfg.Timeouts; t != nil {
		for name, v := range map[string]int{
			"pollInterval":   t.PollInterval,
			"commandTimeout": t.CommandTimeout,
			"syncTimeout":    t.SyncTimeout,
			"exitTimeout":    t.ExitTimeout,
			"idleTimeout":    t.IdleTimeout,
			"gracePeriod":    t.GracePeriod,
		} {
			if v < 0 {
				return fmt.Errorf("timeouts.%s must not be negative", name)
			}
		}
	}

	seen := make(map[string]bool)
	for _, target := range cfg.StartupBatch {
		if types.IsReserved(target) {
			return fmt.Errorf("startup batch entry %q is a reserved command", target)
		}
		if seen[target] {
			return fmt.Errorf("duplicate startup batch entry: %s", target)
		}
		seen[target] = true
	}
	for _, target := range cfg.Targets {
		if types.IsReserved(target) {
			return fmt.Errorf("target %q is a reserved command", target)
		}
	}
	return nil
}

// GetDefaultConfig returns the configuration `cookfarm init` writes
func (m *Manager) GetDefaultConfig(sourceRoot string) *types.FarmConfig {
	enabled := false
	cfg := &types.FarmConfig{
		Version:       types.ConfigVersion,
		SourceRoot:    sourceRoot,
		Notifications: &types.NotificationConfig{Enabled: &enabled},
		Crash:         &types.CrashConfig{Markers: []string{"Critical error", "panic:", "fatal error:"}, TailLines: 20},
	}
	m.ApplyDefaults(cfg)
	return cfg
}

// Save writes cfg as YAML
func (m *Manager) Save(path string, cfg *types.FarmConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
