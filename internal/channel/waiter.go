package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is used when a waiter is created without one
const DefaultPollInterval = 50 * time.Millisecond

// Waiter blocks until a condition on files in one directory holds. It is
// woken by fsnotify events and falls back to a polling ticker, so missed or
// unsupported notifications only cost latency.
type Waiter struct {
	dir     string
	poll    time.Duration
	watcher *fsnotify.Watcher
}

// NewWaiter watches dir. If the platform refuses a watch the waiter polls.
func NewWaiter(dir string, poll time.Duration) *Waiter {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	w := &Waiter{dir: dir, poll: poll}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return w
	}
	w.watcher = watcher
	return w
}

// Notifying reports whether filesystem events drive the waiter
func (w *Waiter) Notifying() bool {
	return w.watcher != nil
}

// Close releases the underlying watch
func (w *Waiter) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

// Wait returns once cond reports true. It fails with ErrTimeout after
// timeout (unbounded when timeout <= 0), with the alive error as soon as
// alive reports one, or with the context error.
func (w *Waiter) Wait(ctx context.Context, what string, timeout time.Duration, cond func() (bool, error), alive func() error) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, open := <-events:
			if !open {
				events = nil
			}

		case _, open := <-errs:
			if !open {
				errs = nil
			}

		case <-ticker.C:
			if alive != nil {
				if err := alive(); err != nil {
					return err
				}
			}

		case <-deadline:
			if ok, err := cond(); err != nil || ok {
				return err
			}
			if alive != nil {
				if err := alive(); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: %s after %s", ErrTimeout, what, timeout)
		}
	}
}
