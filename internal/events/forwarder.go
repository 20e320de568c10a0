// Package events forwards execution state snapshots to a watermill
// publisher so observers outside the process can follow refresh progress.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/livinlefevreloca/tally/internal/inbox"
	"github.com/livinlefevreloca/tally/internal/state"
)

// Topic carries JSON encoded state.Snapshot payloads
const Topic = "tally.state"

// Message metadata keys
const (
	PassIDMetadataKey = "tally_pass_id"
	StatusMetadataKey = "tally_status"
)

// Config controls the snapshot buffer between the worker and the publisher
type Config struct {
	Enabled     bool          `toml:"enabled"`
	BufferSize  int           `toml:"buffer_size"`
	SendTimeout time.Duration `toml:"send_timeout"`
}

// DefaultConfig returns event forwarding defaults
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		BufferSize:  256,
		SendTimeout: 10 * time.Millisecond,
	}
}

func validateConfig(config Config) error {
	if config.BufferSize <= 0 {
		return fmt.Errorf("BufferSize must be positive, got %d", config.BufferSize)
	}
	if config.SendTimeout < 0 {
		return fmt.Errorf("SendTimeout must not be negative, got %v", config.SendTimeout)
	}
	return nil
}

// Stats counts forwarded snapshots
type Stats struct {
	Published int64
	Failed    int64
	Inbox     inbox.Stats
}

// Forwarder subscribes to a state publisher and republishes every
// snapshot on Topic. Snapshots that do not fit in the buffer are dropped
// so a slow broker never stalls the refresh worker.
type Forwarder struct {
	publisher message.Publisher
	inbox     *inbox.Inbox[state.Snapshot]
	logger    *slog.Logger

	unsubscribe func()
	stopOnce    sync.Once
	wg          sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
}

// NewForwarder creates a forwarder publishing to pub
func NewForwarder(config Config, pub message.Publisher, logger *slog.Logger) (*Forwarder, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Forwarder{
		publisher: pub,
		inbox:     inbox.New[state.Snapshot](config.BufferSize, config.SendTimeout, logger),
		logger:    logger,
	}, nil
}

// Start subscribes to source and begins publishing
func (f *Forwarder) Start(source *state.Publisher) {
	f.logger.Info("starting state event forwarder", "topic", Topic)

	f.wg.Add(1)
	go f.run()

	f.unsubscribe = source.Subscribe(func(s state.Snapshot) {
		f.inbox.Send(s)
	})
}

// Stop unsubscribes, publishes whatever is still buffered and returns
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		if f.unsubscribe != nil {
			f.unsubscribe()
		}
		f.inbox.Close()
		f.wg.Wait()
		f.logger.Info("state event forwarder stopped",
			"published", f.published.Load(),
			"failed", f.failed.Load())
	})
}

// Stats returns forwarding counters
func (f *Forwarder) Stats() Stats {
	return Stats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Inbox:     f.inbox.GetStats(),
	}
}

func (f *Forwarder) run() {
	defer f.wg.Done()

	for snapshot := range f.inbox.C() {
		f.inbox.Ack()

		if err := f.publish(snapshot); err != nil {
			f.failed.Add(1)
			f.logger.Warn("failed to publish state snapshot",
				"pass_id", snapshot.PassID,
				"error", err)
			continue
		}
		f.published.Add(1)
	}
}

func (f *Forwarder) publish(snapshot state.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(PassIDMetadataKey, snapshot.PassID)
	msg.Metadata.Set(StatusMetadataKey, string(snapshot.Status))

	return f.publisher.Publish(Topic, msg)
}

// Decode parses a message published by a Forwarder
func Decode(msg *message.Message) (state.Snapshot, error) {
	var snapshot state.Snapshot
	if err := json.Unmarshal(msg.Payload, &snapshot); err != nil {
		return state.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}
