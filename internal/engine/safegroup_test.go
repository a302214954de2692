package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cookfarm/cookfarm/pkg/logger"
)

func TestSafeGroup_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	g, _ := NewSafeGroup(context.Background(), logger.CreateLoggerWithOutput("", "error", &buf))

	g.Go("reaper-ok", func() error { return nil })
	g.Go("reaper-bad", func() error { panic("boom") })

	err := g.Wait()
	assert.EqualError(t, err, "reaper-bad panic: boom")
	assert.Contains(t, buf.String(), "Goroutine panic recovered")
}

func TestSafeGroup_FirstErrorCancelsContext(t *testing.T) {
	g, ctx := NewSafeGroup(context.Background(), logger.Nop())
	failed := errors.New("wait failed")

	g.Go("reaper-0", func() error { return failed })
	g.Go("reaper-1", func() error {
		<-ctx.Done()
		return nil
	})

	assert.ErrorIs(t, g.Wait(), failed)
}
