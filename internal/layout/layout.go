// Package layout names the files a worker and the scheduler share
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// File names inside a worker directory.
const (
	CommandFile  = "command"
	BusyFile     = "busy"
	RequestFile  = "request"
	FragmentFile = "fragment.meta"
	SnapshotFile = "snapshot.meta"
	LogFile      = "worker.log"
)

// OwnerID derives the owner tag of worker index in run runID. The run id is
// shortened so private store names stay readable but never collide across runs.
func OwnerID(runID string, index int) string {
	prefix := strings.ReplaceAll(runID, "-", "")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + ".w" + strconv.Itoa(index)
}

// ParseOwnerIndex extracts the worker index from an owner tag
func ParseOwnerIndex(owner string) (int, error) {
	i := strings.LastIndex(owner, ".w")
	if i < 0 {
		return 0, fmt.Errorf("malformed owner tag %q", owner)
	}
	return strconv.Atoi(owner[i+2:])
}

// WorkerDir is the private directory of one worker
type WorkerDir string

// ForWorker returns the directory of owner under workDir
func ForWorker(workDir, owner string) WorkerDir {
	return WorkerDir(filepath.Join(workDir, owner))
}

// Path returns the directory itself
func (d WorkerDir) Path() string { return string(d) }

// Command is the scheduler to worker slot
func (d WorkerDir) Command() string { return filepath.Join(string(d), CommandFile) }

// Busy is the marker present while a received job is being processed
func (d WorkerDir) Busy() string { return filepath.Join(string(d), BusyFile) }

// Request is the worker to scheduler slot
func (d WorkerDir) Request() string { return filepath.Join(string(d), RequestFile) }

// Fragment holds the worker's unmerged records
func (d WorkerDir) Fragment() string { return filepath.Join(string(d), FragmentFile) }

// Snapshot holds the refreshed authoritative table written after a merge
func (d WorkerDir) Snapshot() string { return filepath.Join(string(d), SnapshotFile) }

// Log collects the worker's output
func (d WorkerDir) Log() string { return filepath.Join(string(d), LogFile) }
