package channel_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfarm/cookfarm/internal/channel"
)

func newChannel(t *testing.T) (*channel.Channel, string) {
	t.Helper()
	dir := t.TempDir()
	w := channel.NewWaiter(dir, 10*time.Millisecond)
	t.Cleanup(func() { w.Close() })
	return channel.New(filepath.Join(dir, "command"), w, nil), dir
}

func TestSend_AtMostOnePending(t *testing.T) {
	ch, _ := newChannel(t)

	require.NoError(t, ch.Send("Textures/A.png"))
	assert.True(t, ch.Pending())

	err := ch.Send("Textures/B.png")
	assert.ErrorIs(t, err, channel.ErrSlotOccupied)

	msg, ok, err := ch.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Textures/A.png", msg, "the first message must not be overwritten")
}

func TestTryReceive_AckRunsBeforeDelete(t *testing.T) {
	ch, dir := newChannel(t)
	require.NoError(t, ch.Send("job"))

	marker := filepath.Join(dir, "busy")
	msg, ok, err := ch.TryReceive(func(m string) error {
		assert.True(t, ch.Pending(), "slot must still be full while acknowledging")
		return os.WriteFile(marker, []byte(m), 0644)
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job", msg)
	assert.False(t, ch.Pending())
	assert.FileExists(t, marker)
}

func TestTryReceive_FailedAckKeepsMessage(t *testing.T) {
	ch, _ := newChannel(t)
	require.NoError(t, ch.Send("job"))

	_, ok, err := ch.TryReceive(func(string) error { return errors.New("disk full") })
	assert.Error(t, err)
	assert.False(t, ok)
	assert.True(t, ch.Pending())
}

func TestTryReceive_Empty(t *testing.T) {
	ch, _ := newChannel(t)
	_, ok, err := ch.TryReceive(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReceive_WaitsForSender(t *testing.T) {
	ch, _ := newChannel(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ch.Send("stop")
	}()

	msg, err := ch.Receive(context.Background(), 2*time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "stop", msg)
	assert.False(t, ch.Pending())
}

func TestReceive_Timeout(t *testing.T) {
	ch, _ := newChannel(t)

	_, err := ch.Receive(context.Background(), 50*time.Millisecond, nil, nil)
	assert.ErrorIs(t, err, channel.ErrTimeout)
}

func TestReceive_LivenessFailureAborts(t *testing.T) {
	ch, _ := newChannel(t)
	gone := errors.New("parent exited")

	start := time.Now()
	_, err := ch.Receive(context.Background(), 5*time.Second, nil, func() error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceive_ContextCancel(t *testing.T) {
	ch, _ := newChannel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Receive(ctx, time.Second, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitConsumed(t *testing.T) {
	ch, _ := newChannel(t)
	require.NoError(t, ch.Send("sync"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		ch.TryReceive(nil)
	}()

	assert.NoError(t, ch.WaitConsumed(context.Background(), 2*time.Second, nil))
}

func TestWaitForFile_PollingFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.meta")

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte("x"), 0644)
	}()

	// a nil waiter polls
	require.NoError(t, channel.WaitForFile(context.Background(), nil, path, 2*time.Second, nil))
}
