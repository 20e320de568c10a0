package worker

import (
	"fmt"
	"time"

	"github.com/livinlefevreloca/tally/internal/cron"
)

// Config controls how the refresh worker paces and repeats passes
type Config struct {
	// Delay between two consecutive metrics of a pass
	PacingDelay time.Duration `toml:"pacing_delay"`

	// Rebuild the queue from the store after each pass instead of completing
	Continuous bool `toml:"continuous"`

	// Optional cron expression a continuous pass waits for
	CycleSchedule string `toml:"cycle_schedule"`

	// Upper bound on a single executor call, 0 for none
	ExecutionTimeout time.Duration `toml:"execution_timeout"`

	// Cancel the in-flight executor call on Stop
	AbortOnStop bool `toml:"abort_on_stop"`
}

// DefaultConfig returns worker configuration defaults
func DefaultConfig() Config {
	return Config{
		PacingDelay:      2 * time.Second,
		Continuous:       false,
		ExecutionTimeout: 0,
		AbortOnStop:      false,
	}
}

// validateConfig validates worker configuration and returns the parsed
// cycle schedule, nil when none is configured
func validateConfig(config Config) (*cron.Schedule, error) {
	if config.PacingDelay < 0 {
		return nil, fmt.Errorf("PacingDelay must not be negative, got %v", config.PacingDelay)
	}

	if config.ExecutionTimeout < 0 {
		return nil, fmt.Errorf("ExecutionTimeout must not be negative, got %v", config.ExecutionTimeout)
	}

	if config.CycleSchedule == "" {
		return nil, nil
	}

	if !config.Continuous {
		return nil, fmt.Errorf("CycleSchedule requires Continuous mode")
	}

	schedule, err := cron.Parse(config.CycleSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid CycleSchedule: %w", err)
	}
	return schedule, nil
}
