package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/livinlefevreloca/tally/internal/cron"
	"github.com/livinlefevreloca/tally/internal/db"
	"github.com/livinlefevreloca/tally/internal/events"
	"github.com/livinlefevreloca/tally/internal/logging"
	"github.com/livinlefevreloca/tally/internal/source"
	"github.com/livinlefevreloca/tally/internal/stats"
	"github.com/livinlefevreloca/tally/internal/store"
	"github.com/livinlefevreloca/tally/internal/syncer"
	"github.com/livinlefevreloca/tally/internal/telemetry"
	"github.com/livinlefevreloca/tally/internal/worker"
)

// Config represents the application configuration
type Config struct {
	Database db.Config               `toml:"database"`
	Store    store.Config            `toml:"store"`
	Worker   worker.Config           `toml:"worker"`
	Syncer   syncer.Config           `toml:"syncer"`
	Stats    stats.Config            `toml:"stats"`
	Sources  []source.Config         `toml:"sources" validate:"unique=Type,dive"`
	HTTP     HTTPConfig              `toml:"http"`
	Metrics  MetricsConfig           `toml:"metrics"`
	Events   events.Config           `toml:"events"`
	Tracing  telemetry.TracingConfig `toml:"tracing"`
	Logging  logging.Config          `toml:"logging"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Addr returns the listen address
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

// Addr returns the listen address
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "tally.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Store: store.Config{
			Backend: store.BackendSQL,
			Redis: store.RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "tally:",
			},
		},
		Worker: worker.DefaultConfig(),
		Syncer: syncer.DefaultConfig(),
		Stats:  stats.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    9090,
			Path:    "/metrics",
		},
		Events:  events.DefaultConfig(),
		Tracing: telemetry.DefaultTracingConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return defaults
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(configPath)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := source.RegisterValidations(v); err != nil {
		panic(err)
	}
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Store.Backend == store.BackendSQL || c.Store.Backend == "" {
		if c.Database.Driver == "" {
			return fmt.Errorf("database driver must be specified")
		}
		switch c.Database.Driver {
		case "sqlite3", "postgres", "pgx":
		default:
			return fmt.Errorf("unsupported database driver: %s (must be sqlite3, postgres, or pgx)", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN must be specified")
		}
	}

	// Store validation
	switch c.Store.Backend {
	case store.BackendSQL, "":
	case store.BackendYAML:
		if c.Store.Path == "" {
			return fmt.Errorf("store path must be specified for the yaml backend")
		}
	case store.BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store redis addr must be specified for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (must be sql, yaml, or redis)", c.Store.Backend)
	}

	// Worker validation
	if c.Worker.PacingDelay < 0 {
		return fmt.Errorf("worker pacing_delay must not be negative")
	}
	if c.Worker.ExecutionTimeout < 0 {
		return fmt.Errorf("worker execution_timeout must not be negative")
	}
	if c.Worker.CycleSchedule != "" && !c.Worker.Continuous {
		return fmt.Errorf("worker cycle_schedule requires continuous = true")
	}
	if c.Worker.CycleSchedule != "" {
		if _, err := cron.Parse(c.Worker.CycleSchedule); err != nil {
			return fmt.Errorf("worker cycle_schedule: %w", err)
		}
	}

	// Syncer validation
	if c.Syncer.MaxBuffered <= 0 {
		return fmt.Errorf("syncer max_buffered must be positive")
	}
	if c.Syncer.MaxAttempts <= 0 {
		return fmt.Errorf("syncer max_attempts must be positive")
	}

	// Sources validation
	if err := validate.Struct(c); err != nil {
		return sourcesError(err)
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
	}

	// Tracing validation
	if c.Tracing.Enabled && (c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing sample_ratio must be in (0, 1]")
	}

	// Logging validation
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// sourcesError turns validator output into a readable message
func sourcesError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid sources: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "unique":
			msgs = append(msgs, "source types must be unique")
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case source.DriverTag:
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), strings.Join(source.SupportedDrivers, " "), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid sources: %s", strings.Join(msgs, "; "))
}
