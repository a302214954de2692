package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cookfarm/cookfarm/internal/channel"
)

// Sentinel errors for scheduler operations. Check them with errors.Is().
var (
	// ErrTimeout indicates a bounded wait expired
	ErrTimeout = channel.ErrTimeout

	// ErrWorkerCrashed indicates a worker process exited without being stopped
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrUnmergedRecords indicates private records would survive the run
	ErrUnmergedRecords = errors.New("unmerged private records")

	// ErrForeignRecord indicates a fragment holds a record owned by another worker
	ErrForeignRecord = errors.New("fragment record owned by another worker")
)

// CrashError describes a crashed worker
type CrashError struct {
	Worker    int
	Owner     string
	ExitCode  int
	AfterStop bool
	Lines     []string
}

func (e *CrashError) Error() string {
	var b strings.Builder
	if e.AfterStop {
		fmt.Fprintf(&b, "worker %d (%s) exited with code %d after stop", e.Worker, e.Owner, e.ExitCode)
	} else {
		fmt.Fprintf(&b, "worker %d (%s) exited unexpectedly with code %d", e.Worker, e.Owner, e.ExitCode)
	}
	if len(e.Lines) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Lines, " | "))
	}
	return b.String()
}

// Unwrap returns ErrWorkerCrashed
func (e *CrashError) Unwrap() error {
	return ErrWorkerCrashed
}
