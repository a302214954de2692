// Package notifier provides desktop notifications for finished cook runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// RunNotifier reports run outcomes
type RunNotifier struct {
	enabled bool
	send    SendFunc
	logger  logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	Beep    bool
}

// New creates a notifier that sends through beeep
func New(config Config, log logger.Logger) *RunNotifier {
	send := func(title, message string) error {
		return beeep.Notify(title, message, "")
	}
	if config.Beep {
		send = func(title, message string) error {
			if err := beeep.Notify(title, message, ""); err != nil {
				return err
			}
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		}
	}
	return NewWithSender(config, log, send)
}

// NewWithSender creates a notifier with a custom delivery function
func NewWithSender(config Config, log logger.Logger, send SendFunc) *RunNotifier {
	return &RunNotifier{
		enabled: config.Enabled,
		send:    send,
		logger:  log,
	}
}

// NotifyRunSuccess reports a finished run
func (n *RunNotifier) NotifyRunSuccess(summary types.RunSummary) {
	if !n.enabled {
		return
	}

	mode := "serial"
	if summary.Parallel {
		mode = fmt.Sprintf("%d workers", summary.Workers)
	}
	title := "🍳 Cook finished"
	message := fmt.Sprintf("%d targets cooked in %s (%s)", summary.Jobs, formatDuration(summary.Duration), mode)

	n.sendNotification(title, message)
}

// NotifyRunFailure reports a failed run
func (n *RunNotifier) NotifyRunFailure(err error) {
	if !n.enabled {
		return
	}

	n.sendNotification("❌ Cook failed", err.Error())
}

func (n *RunNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
