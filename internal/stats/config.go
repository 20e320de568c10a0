package stats

import (
	"fmt"
	"time"
)

// Config defines configuration for the stats collector
type Config struct {
	// Inbox configuration
	InboxBufferSize  int           `toml:"inbox_buffer_size"`
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`

	// Flush when this many summaries are pending or the interval elapses
	FlushInterval  time.Duration `toml:"flush_interval"`
	FlushThreshold int           `toml:"flush_threshold"`
}

// DefaultConfig returns default stats collector configuration
func DefaultConfig() Config {
	return Config{
		InboxBufferSize:  100,
		InboxSendTimeout: 100 * time.Millisecond,
		FlushInterval:    30 * time.Second,
		FlushThreshold:   10,
	}
}

func validateConfig(config Config) error {
	if config.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", config.InboxBufferSize)
	}
	if config.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", config.FlushInterval)
	}
	if config.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", config.FlushThreshold)
	}
	return nil
}
