package inbox

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestInbox_SendReceive(t *testing.T) {
	ib := New[int](4, time.Millisecond, createTestLogger())

	assert.True(t, ib.Send(1))
	assert.True(t, ib.Send(2))
	assert.Equal(t, 2, ib.Len())

	msg, ok := ib.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, 1, msg)

	got := <-ib.C()
	ib.Ack()
	assert.Equal(t, 2, got)

	_, ok = ib.TryReceive()
	assert.False(t, ok)

	stats := ib.GetStats()
	assert.Equal(t, int64(2), stats.TotalSent)
	assert.Equal(t, int64(2), stats.TotalReceived)
	assert.Equal(t, 2, stats.MaxDepthSeen)
	assert.Equal(t, 0, stats.CurrentDepth)
}

func TestInbox_DropsWhenFull(t *testing.T) {
	ib := New[string](1, 5*time.Millisecond, createTestLogger())

	assert.True(t, ib.Send("a"))

	start := time.Now()
	assert.False(t, ib.Send("b"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	assert.Equal(t, int64(1), ib.GetStats().DroppedCount)
}

func TestInbox_ZeroTimeoutDropsImmediately(t *testing.T) {
	ib := New[string](1, 0, createTestLogger())

	assert.True(t, ib.Send("a"))
	assert.False(t, ib.Send("b"))
}

func TestInbox_SendWaitsForSpace(t *testing.T) {
	ib := New[int](1, time.Second, createTestLogger())
	ib.Send(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		ib.TryReceive()
	}()

	assert.True(t, ib.Send(2))
}

func TestInbox_Close(t *testing.T) {
	ib := New[int](2, time.Millisecond, createTestLogger())
	ib.Send(1)

	ib.Close()
	ib.Close()

	assert.False(t, ib.Send(2), "send after close must not panic and must report a drop")

	msg, ok := <-ib.C()
	assert.True(t, ok)
	assert.Equal(t, 1, msg)

	_, ok = <-ib.C()
	assert.False(t, ok)
}
