// Package state records the current or last cook run in the state
// directory and keeps a second scheduler from running against the same
// stores
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/process"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// FileName is the run record inside the state directory
const FileName = "run.json"

// DefaultStaleAfter is how old a heartbeat may get before the run is
// considered abandoned
const DefaultStaleAfter = 30 * time.Second

// ErrRunInProgress is returned when another live scheduler owns the state
// directory
var ErrRunInProgress = errors.New("another cook run is in progress")

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is the persisted record of one run
type RunState struct {
	RunID     string            `json:"runId"`
	ProcessID int               `json:"processId"`
	Status    RunStatus         `json:"status"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime,omitempty"`
	Heartbeat time.Time         `json:"heartbeat"`
	Summary   *types.RunSummary `json:"summary,omitempty"`
	LastError string            `json:"lastError,omitempty"`
}

// StateManager owns the run record of one state directory
type StateManager struct {
	path       string
	logger     logger.Logger
	fs         *utils.FileSystemUtils
	staleAfter time.Duration
	isAlive    func(pid int) bool

	mu    sync.Mutex
	state *RunState
}

// NewStateManager creates a state manager for stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	return &StateManager{
		path:       filepath.Join(stateDir, FileName),
		logger:     log,
		fs:         utils.NewFileSystemUtils(),
		staleAfter: DefaultStaleAfter,
		isAlive:    process.IsAlive,
	}
}

// Acquire claims the state directory for runID
func (sm *StateManager) Acquire(runID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev, err := sm.load()
	if err != nil && !os.IsNotExist(err) {
		sm.logger.Warn("Ignoring unreadable run record", logger.WithError(err))
	}
	if prev != nil && sm.live(prev) {
		return fmt.Errorf("%w: run %s (pid %d)", ErrRunInProgress, prev.RunID, prev.ProcessID)
	}
	if prev != nil && prev.Status == RunStatusRunning {
		sm.logger.Warn("Previous run ended without cleanup",
			logger.WithField("run", prev.RunID),
			logger.WithField("pid", prev.ProcessID))
	}

	now := time.Now()
	sm.state = &RunState{
		RunID:     runID,
		ProcessID: os.Getpid(),
		Status:    RunStatusRunning,
		StartTime: now,
		Heartbeat: now,
	}
	return sm.save()
}

// Touch refreshes the heartbeat of the held run
func (sm *StateManager) Touch() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == nil || sm.state.Status != RunStatusRunning {
		return
	}
	sm.state.Heartbeat = time.Now()
	if err := sm.save(); err != nil {
		sm.logger.Warn("Failed to update run heartbeat", logger.WithError(err))
	}
}

// Finish records the outcome of the held run
func (sm *StateManager) Finish(summary types.RunSummary, runErr error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == nil {
		return nil
	}
	now := time.Now()
	sm.state.EndTime = now
	sm.state.Heartbeat = now
	sm.state.Summary = &summary
	sm.state.Status = RunStatusSucceeded
	if runErr != nil {
		sm.state.Status = RunStatusFailed
		sm.state.LastError = runErr.Error()
	}
	return sm.save()
}

// Read returns the persisted run record. A missing record is reported with
// an os.IsNotExist error.
func (sm *StateManager) Read() (*RunState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.load()
}

// IsLocked reports whether a live run other than ours owns the directory
func (sm *StateManager) IsLocked() (bool, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, err := sm.load()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return sm.live(st), nil
}

// Remove deletes the run record
func (sm *StateManager) Remove() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = nil
	return sm.fs.Remove(sm.path)
}

func (sm *StateManager) live(st *RunState) bool {
	if st.Status != RunStatusRunning || st.ProcessID == os.Getpid() {
		return false
	}
	if time.Since(st.Heartbeat) > sm.staleAfter {
		return false
	}
	return sm.isAlive(st.ProcessID)
}

func (sm *StateManager) load() (*RunState, error) {
	data, err := sm.fs.ReadFile(sm.path)
	if err != nil {
		return nil, err
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", sm.path, err)
	}
	return &st, nil
}

func (sm *StateManager) save() error {
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := sm.fs.WriteFile(sm.path, data); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}
