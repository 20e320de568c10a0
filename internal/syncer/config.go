package syncer

import "fmt"

// Config defines the persist retry buffer limits
type Config struct {
	// Maximum failed writes kept for retry; the oldest is evicted beyond this
	MaxBuffered int `toml:"max_buffered"`

	// Flush attempts before a buffered write is dropped
	MaxAttempts int `toml:"max_attempts"`
}

// DefaultConfig returns syncer configuration defaults
func DefaultConfig() Config {
	return Config{
		MaxBuffered: 1000,
		MaxAttempts: 5,
	}
}

// validateConfig validates syncer configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.MaxBuffered <= 0 {
		return fmt.Errorf("MaxBuffered must be positive, got %d", config.MaxBuffered)
	}

	if config.MaxAttempts <= 0 {
		return fmt.Errorf("MaxAttempts must be positive, got %d", config.MaxAttempts)
	}

	return nil
}
