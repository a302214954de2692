package config_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/cookfarm/cookfarm/pkg/config"
	"github.com/cookfarm/cookfarm/pkg/types"
)

func TestLoadConfig_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cookfarm.config.json")

	testConfig := map[string]interface{}{
		"version":      "1.0",
		"sourceRoot":   "assets",
		"startupBatch": []string{"Boot/Splash.png"},
		"pool":         map[string]interface{}{"maxWorkers": 4},
	}

	data, _ := json.Marshal(testConfig)
	os.WriteFile(configPath, data, 0644)

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.SourceRoot != filepath.Join(tmpDir, "assets") {
		t.Errorf("expected sourceRoot resolved against config dir, got %s", cfg.SourceRoot)
	}
	if cfg.Pool.MaxWorkers != 4 {
		t.Errorf("expected maxWorkers 4, got %d", cfg.Pool.MaxWorkers)
	}
	if len(cfg.StartupBatch) != 1 {
		t.Errorf("expected 1 startup batch entry, got %d", len(cfg.StartupBatch))
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cookfarm.config.yaml")

	testConfig := map[string]interface{}{
		"version":    "1.0",
		"sourceRoot": "/abs/src",
		"alignment":  4096,
		"timeouts":   map[string]interface{}{"syncTimeout": 500},
	}

	data, _ := yaml.Marshal(testConfig)
	os.WriteFile(configPath, data, 0644)

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	if cfg.SourceRoot != "/abs/src" {
		t.Errorf("absolute sourceRoot must be kept, got %s", cfg.SourceRoot)
	}
	if cfg.Alignment != 4096 {
		t.Errorf("expected alignment 4096, got %d", cfg.Alignment)
	}
	if cfg.Timeouts.SyncTimeout != 500 {
		t.Errorf("expected syncTimeout 500, got %d", cfg.Timeouts.SyncTimeout)
	}
	if cfg.Timeouts.PollInterval != config.DefaultPollInterval {
		t.Errorf("expected default poll interval, got %d", cfg.Timeouts.PollInterval)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cookfarm.config.yaml")
	os.WriteFile(configPath, []byte("sourceRoot: src\n"), 0644)

	cfg, err := config.NewManager().LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	checks := map[string]string{
		"metadataPath": cfg.MetadataPath,
		"storeDir":     cfg.StoreDir,
		"workDir":      cfg.WorkDir,
		"outputRoot":   cfg.OutputRoot,
	}
	for name, path := range checks {
		if !strings.HasPrefix(path, tmpDir) {
			t.Errorf("%s = %s, want a path under %s", name, path, tmpDir)
		}
	}
	if cfg.Version != types.ConfigVersion {
		t.Errorf("expected default version, got %s", cfg.Version)
	}
	if cfg.Alignment != types.DefaultAlignment {
		t.Errorf("expected default alignment, got %d", cfg.Alignment)
	}
	if cfg.StoreName() != types.DefaultStoreName {
		t.Errorf("expected default store, got %s", cfg.StoreName())
	}
	if cfg.Timeouts.IdleTimeout != config.DefaultIdleTimeout {
		t.Errorf("expected default idle timeout, got %d", cfg.Timeouts.IdleTimeout)
	}
}

func TestValidateConfig(t *testing.T) {
	manager := config.NewManager()

	tests := []struct {
		name    string
		mutate  func(*types.FarmConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*types.FarmConfig) {},
		},
		{
			name:    "unsupported version",
			mutate:  func(c *types.FarmConfig) { c.Version = "2.0" },
			wantErr: "unsupported config version",
		},
		{
			name:    "missing source root",
			mutate:  func(c *types.FarmConfig) { c.SourceRoot = "" },
			wantErr: "sourceRoot is required",
		},
		{
			name:    "alignment not a power of two",
			mutate:  func(c *types.FarmConfig) { c.Alignment = 3000 },
			wantErr: "power of two",
		},
		{
			name:    "bad store name",
			mutate:  func(c *types.FarmConfig) { c.DefaultStore = "../mips" },
			wantErr: "invalid default store name",
		},
		{
			name:    "bad log level",
			mutate:  func(c *types.FarmConfig) { c.LogLevel = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *types.FarmConfig) { c.Timeouts.SyncTimeout = -1 },
			wantErr: "timeouts.syncTimeout",
		},
		{
			name:    "negative pool",
			mutate:  func(c *types.FarmConfig) { c.Pool.MaxWorkers = -2 },
			wantErr: "pool settings",
		},
		{
			name:    "reserved startup entry",
			mutate:  func(c *types.FarmConfig) { c.StartupBatch = []string{types.CommandStop} },
			wantErr: "reserved command",
		},
		{
			name:    "duplicate startup entry",
			mutate:  func(c *types.FarmConfig) { c.StartupBatch = []string{"a.png", "a.png"} },
			wantErr: "duplicate startup batch entry",
		},
		{
			name:    "reserved target",
			mutate:  func(c *types.FarmConfig) { c.Targets = []string{types.CommandSync} },
			wantErr: "reserved command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manager.GetDefaultConfig("/src")
			tt.mutate(cfg)

			err := manager.ValidateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := config.NewManager().GetDefaultConfig("assets")

	if cfg.SourceRoot != "assets" {
		t.Errorf("expected sourceRoot assets, got %s", cfg.SourceRoot)
	}
	if cfg.NotificationsEnabled() {
		t.Error("notifications should be off by default")
	}
	if cfg.Timeouts == nil || cfg.Timeouts.GracePeriod != config.DefaultGracePeriod {
		t.Error("expected default timeouts")
	}
	if cfg.Crash == nil || len(cfg.Crash.Markers) == 0 {
		t.Error("expected crash markers")
	}
}

func TestSaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cookfarm.config.yaml")
	manager := config.NewManager()

	if err := manager.Save(path, manager.GetDefaultConfig("src")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SourceRoot != filepath.Join(tmpDir, "src") {
		t.Errorf("unexpected sourceRoot %s", cfg.SourceRoot)
	}
}

func TestFindConfig(t *testing.T) {
	tmpDir := t.TempDir()
	manager := config.NewManager()

	if _, err := manager.FindConfig("", tmpDir); !errors.Is(err, config.ErrNoConfig) {
		t.Errorf("expected ErrNoConfig, got %v", err)
	}

	want := filepath.Join(tmpDir, "cookfarm.config.json")
	os.WriteFile(want, []byte(`{"sourceRoot":"src"}`), 0644)
	got, err := manager.FindConfig("", tmpDir)
	if err != nil || got != want {
		t.Errorf("FindConfig() = %s, %v; want %s", got, err, want)
	}

	if got, _ := manager.FindConfig("explicit.yaml", tmpDir); got != "explicit.yaml" {
		t.Errorf("explicit path must win, got %s", got)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := config.NewManager()

	if _, err := manager.LoadConfig(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	os.WriteFile(bad, []byte("sourceRoot: [unclosed"), 0644)
	if _, err := manager.LoadConfig(bad); err == nil {
		t.Error("expected error for malformed file")
	}
}
