package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/cookfarm/cookfarm/pkg/logger"
)

// SafeGroup wraps errgroup.Group with panic recovery. The scheduler uses it
// for the per-process reaper goroutines, so a panic while reaping becomes an
// error instead of taking the scheduler down.
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a new SafeGroup with panic recovery
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &SafeGroup{
		group:  g,
		logger: log,
	}, ctx
}

// Go runs fn in a new goroutine. A panic is converted to an error naming the
// goroutine and logged with its stack trace.
func (sg *SafeGroup) Go(name string, fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("goroutine", name),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))

				err = fmt.Errorf("%s panic: %v", name, r)
			}
		}()

		return fn()
	})
}

// Wait blocks until all goroutines have completed and returns the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
