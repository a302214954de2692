// Package channel implements one-shot message slots on the filesystem.
//
// A slot is a single file. Writing it sends a message, deleting it consumes
// the message. At most one message may be pending per slot.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cookfarm/cookfarm/pkg/utils"
)

var (
	// ErrSlotOccupied is returned by Send while a message is still pending
	ErrSlotOccupied = errors.New("channel slot occupied")

	// ErrTimeout is returned when a bounded wait expires
	ErrTimeout = errors.New("timed out")
)

// Channel is a one-shot slot at a fixed path
type Channel struct {
	path   string
	fsu    *utils.FileSystemUtils
	waiter *Waiter
}

// New creates a channel at path. The waiter must watch the slot's directory;
// a nil waiter makes blocking calls poll at DefaultPollInterval.
func New(path string, waiter *Waiter, fsu *utils.FileSystemUtils) *Channel {
	if fsu == nil {
		fsu = utils.NewFileSystemUtils()
	}
	return &Channel{path: path, fsu: fsu, waiter: waiter}
}

// Path returns the slot file
func (c *Channel) Path() string {
	return c.path
}

// Send writes msg atomically. Readers never observe a partial message.
func (c *Channel) Send(msg string) error {
	if c.Pending() {
		return fmt.Errorf("send %q to %s: %w", msg, c.path, ErrSlotOccupied)
	}
	if err := c.fsu.WriteFile(c.path, []byte(msg)); err != nil {
		return fmt.Errorf("send %q to %s: %w", msg, c.path, err)
	}
	return nil
}

// Pending reports whether a message is waiting in the slot
func (c *Channel) Pending() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// Peek returns the pending message without consuming it
func (c *Channel) Peek() (string, bool, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", c.path, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// TryReceive consumes the pending message if there is one. The ack hook runs
// after the message is read and before the slot is cleared; if it fails the
// message stays pending.
func (c *Channel) TryReceive(ack func(msg string) error) (string, bool, error) {
	msg, ok, err := c.Peek()
	if err != nil || !ok {
		return "", false, err
	}
	if ack != nil {
		if err := ack(msg); err != nil {
			return "", false, fmt.Errorf("acknowledge %q: %w", msg, err)
		}
	}
	if err := c.fsu.Remove(c.path); err != nil {
		return "", false, fmt.Errorf("consume %s: %w", c.path, err)
	}
	return msg, true, nil
}

// Receive blocks until a message arrives and consumes it
func (c *Channel) Receive(ctx context.Context, timeout time.Duration, ack func(msg string) error, alive func() error) (string, error) {
	if err := c.wait(ctx, "message on "+c.path, timeout, c.Pending, alive); err != nil {
		return "", err
	}
	msg, ok, err := c.TryReceive(ack)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("message on %s vanished before it was read", c.path)
	}
	return msg, nil
}

// WaitConsumed blocks until the pending message, if any, has been consumed
func (c *Channel) WaitConsumed(ctx context.Context, timeout time.Duration, alive func() error) error {
	return c.wait(ctx, "consumer of "+c.path, timeout, func() bool { return !c.Pending() }, alive)
}

// Clear removes any pending message
func (c *Channel) Clear() error {
	return c.fsu.Remove(c.path)
}

func (c *Channel) wait(ctx context.Context, what string, timeout time.Duration, pred func() bool, alive func() error) error {
	w := c.waiter
	if w == nil {
		w = &Waiter{poll: DefaultPollInterval}
	}
	return w.Wait(ctx, what, timeout, func() (bool, error) { return pred(), nil }, alive)
}

// WaitForFile blocks until path exists
func WaitForFile(ctx context.Context, w *Waiter, path string, timeout time.Duration, alive func() error) error {
	if w == nil {
		w = &Waiter{poll: DefaultPollInterval}
	}
	return w.Wait(ctx, path, timeout, func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}, alive)
}
