// Package inbox provides a bounded, typed hand-off between a producer that
// must never stall for long and a single consuming goroutine.
package inbox

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox is a buffered channel with a bounded send wait.
// T is the message type that will be sent through the inbox.
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
	maxDepth atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	DroppedCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox with the given buffer size. A send waits at most
// timeout for space; a zero timeout drops immediately when full.
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers msg, returning false if it was dropped because the inbox
// stayed full for the whole timeout or is closed
func (ib *Inbox[T]) Send(msg T) bool {
	ib.mu.RLock()
	defer ib.mu.RUnlock()

	if ib.closed {
		ib.dropped.Add(1)
		return false
	}

	select {
	case ib.ch <- msg:
		ib.recordSend()
		return true
	default:
	}

	if ib.timeout > 0 {
		timer := time.NewTimer(ib.timeout)
		defer timer.Stop()
		select {
		case ib.ch <- msg:
			ib.recordSend()
			return true
		case <-timer.C:
		}
	}

	ib.dropped.Add(1)
	ib.logger.Warn("inbox full, dropping message",
		"timeout", ib.timeout,
		"current_depth", len(ib.ch))
	return false
}

func (ib *Inbox[T]) recordSend() {
	ib.sent.Add(1)
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepth.Load()
		if depth <= seen || ib.maxDepth.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// C returns the receive side. It is closed by Close once drained.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// Ack counts a message taken from C
func (ib *Inbox[T]) Ack() {
	ib.received.Add(1)
}

// TryReceive attempts to receive a message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg, ok := <-ib.ch:
		if ok {
			ib.received.Add(1)
		}
		return msg, ok
	default:
		var zero T
		return zero, false
	}
}

// GetStats returns a copy of the current inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		DroppedCount:  ib.dropped.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}

// Len returns the current number of messages in the inbox
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close stops accepting messages. Buffered messages can still be received.
func (ib *Inbox[T]) Close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.closed {
		return
	}
	ib.closed = true
	close(ib.ch)
}
