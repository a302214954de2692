package engine

import (
	"time"

	"github.com/cookfarm/cookfarm/internal/channel"
	"github.com/cookfarm/cookfarm/internal/layout"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// WorkerHandle is the scheduler's view of one worker process
type WorkerHandle struct {
	Index    int
	Owner    string
	Proc     Process
	Dir      layout.WorkerDir
	Commands *channel.Channel
	Requests *channel.Channel

	State        types.WorkerState
	StopSent     bool
	StopTime     time.Time
	LastDispatch time.Time
	CurrentJob   string

	JobsCompleted    int
	BytesContributed int64
}

func newHandle(spec WorkerSpec, proc Process, fsu *utils.FileSystemUtils) *WorkerHandle {
	return &WorkerHandle{
		Index:    spec.Index,
		Owner:    spec.Owner,
		Proc:     proc,
		Dir:      spec.Dir,
		Commands: channel.New(spec.Dir.Command(), nil, fsu),
		Requests: channel.New(spec.Dir.Request(), nil, fsu),
		State:    types.WorkerStateIdle,
	}
}

// observedIdle reports whether the worker has neither an unread command nor
// a job in progress
func (h *WorkerHandle) observedIdle(fsu *utils.FileSystemUtils) bool {
	return !h.Commands.Pending() && !fsu.Exists(h.Dir.Busy())
}

// exited reports whether the process has ended
func (h *WorkerHandle) exited() bool {
	done, _ := h.Proc.Exited()
	return done
}
