// Package types provides core types and configurations for cookfarm
package types

import (
	"strings"
	"time"
)

// Job identifies one build target, relative to the source root
type Job string

// String returns the job identifier
func (j Job) String() string {
	return string(j)
}

// Reserved command channel tokens. Any other message is a job identifier.
const (
	CommandStop         = "stop"
	CommandStartupBatch = "run-all-startup-batch"
	CommandSync         = "sync"
)

// IsReserved reports whether msg is one of the reserved channel tokens
func IsReserved(msg string) bool {
	switch msg {
	case CommandStop, CommandStartupBatch, CommandSync:
		return true
	}
	return false
}

// WorkerState represents the scheduler's view of a worker
type WorkerState string

const (
	WorkerStateIdle    WorkerState = "idle"
	WorkerStateBusy    WorkerState = "busy"
	WorkerStateStopped WorkerState = "stopped"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ConfigVersion is the only supported configuration version
const ConfigVersion = "1.0"

// DefaultAlignment is the block size content store records are aligned to
const DefaultAlignment int64 = 2048

// DefaultStoreName names the content store payloads go to when a cooker does not pick one
const DefaultStoreName = "mips"

// FarmConfig represents the cookfarm configuration file
type FarmConfig struct {
	Version       string              `json:"version" yaml:"version"`
	SourceRoot    string              `json:"sourceRoot" yaml:"sourceRoot"`
	OutputRoot    string              `json:"outputRoot" yaml:"outputRoot"`
	MetadataPath  string              `json:"metadataPath,omitempty" yaml:"metadataPath,omitempty"`
	StoreDir      string              `json:"storeDir,omitempty" yaml:"storeDir,omitempty"`
	WorkDir       string              `json:"workDir,omitempty" yaml:"workDir,omitempty"`
	Targets       []string            `json:"targets,omitempty" yaml:"targets,omitempty"`
	Exclude       []string            `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	StartupBatch  []string            `json:"startupBatch,omitempty" yaml:"startupBatch,omitempty"`
	Alignment     int64               `json:"alignment,omitempty" yaml:"alignment,omitempty"`
	DefaultStore  string              `json:"defaultStore,omitempty" yaml:"defaultStore,omitempty"`
	CookerVersion string              `json:"cookerVersion,omitempty" yaml:"cookerVersion,omitempty"`
	MinMipSize    int                 `json:"minMipSize,omitempty" yaml:"minMipSize,omitempty"`
	LogLevel      LogLevel            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	MetricsFile   string              `json:"metricsFile,omitempty" yaml:"metricsFile,omitempty"`
	Pool          *PoolConfig         `json:"pool,omitempty" yaml:"pool,omitempty"`
	Timeouts      *TimeoutConfig      `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	Crash         *CrashConfig        `json:"crash,omitempty" yaml:"crash,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// PoolConfig controls how many worker processes a run may use
type PoolConfig struct {
	Disabled          bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	MaxWorkers        int  `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	ReservedCores     int  `json:"reservedCores,omitempty" yaml:"reservedCores,omitempty"`
	MemoryPerWorkerMB int  `json:"memoryPerWorkerMB,omitempty" yaml:"memoryPerWorkerMB,omitempty"`
	ReservedMemoryMB  int  `json:"reservedMemoryMB,omitempty" yaml:"reservedMemoryMB,omitempty"`
}

// TimeoutConfig holds every bound used by blocking waits. Values are milliseconds.
type TimeoutConfig struct {
	PollInterval   int `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	CommandTimeout int `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
	SyncTimeout    int `json:"syncTimeout,omitempty" yaml:"syncTimeout,omitempty"`
	ExitTimeout    int `json:"exitTimeout,omitempty" yaml:"exitTimeout,omitempty"`
	IdleTimeout    int `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`
	GracePeriod    int `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`
}

// CrashConfig controls crash log scanning
type CrashConfig struct {
	Markers   []string `json:"markers,omitempty" yaml:"markers,omitempty"`
	TailLines int      `json:"tailLines,omitempty" yaml:"tailLines,omitempty"`
}

// NotificationConfig represents notification settings
type NotificationConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// PollIntervalDuration returns the sleep between polling passes
func (t *TimeoutConfig) PollIntervalDuration() time.Duration { return millis(t.PollInterval) }

// CommandTimeoutDuration bounds how long a message may sit unconsumed
func (t *TimeoutConfig) CommandTimeoutDuration() time.Duration { return millis(t.CommandTimeout) }

// SyncTimeoutDuration bounds how long a worker waits for a merged snapshot
func (t *TimeoutConfig) SyncTimeoutDuration() time.Duration { return millis(t.SyncTimeout) }

// ExitTimeoutDuration bounds how long the scheduler waits for a stopped worker to exit
func (t *TimeoutConfig) ExitTimeoutDuration() time.Duration { return millis(t.ExitTimeout) }

// IdleTimeoutDuration bounds how long a worker waits for its next command
func (t *TimeoutConfig) IdleTimeoutDuration() time.Duration { return millis(t.IdleTimeout) }

// GracePeriodDuration is the pause between terminating workers and reading their logs
func (t *TimeoutConfig) GracePeriodDuration() time.Duration { return millis(t.GracePeriod) }

// NotificationsEnabled reports whether desktop notifications are on
func (c *FarmConfig) NotificationsEnabled() bool {
	return c.Notifications != nil && c.Notifications.Enabled != nil && *c.Notifications.Enabled
}

// StoreName returns the store payloads go to by default
func (c *FarmConfig) StoreName() string {
	if c.DefaultStore == "" {
		return DefaultStoreName
	}
	return c.DefaultStore
}

// ValidStoreName reports whether name can be used as a content store file stem
func ValidStoreName(name string) bool {
	if name == "" {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	}) < 0
}

// RunSummary describes the outcome of one cook run
type RunSummary struct {
	RunID       string        `json:"runId"`
	Jobs        int           `json:"jobs"`
	Workers     int           `json:"workers"`
	Parallel    bool          `json:"parallel"`
	Merges      int           `json:"merges"`
	WastedBytes int64         `json:"wastedBytes"`
	Duration    time.Duration `json:"duration"`
}
