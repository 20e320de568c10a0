// Package store loads metric definitions and durably records refresh
// outcomes. Backends: a SQL database, a YAML file, or Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livinlefevreloca/tally/internal/db"
	"github.com/livinlefevreloca/tally/internal/metric"
)

// Store is the metric store consumed by the refresh worker
type Store interface {
	// LoadAll returns every known metric in a stable order
	LoadAll(ctx context.Context) ([]metric.Definition, error)
	// PersistValue records a successful refresh
	PersistValue(ctx context.Context, id string, value float64, at time.Time) error
}

// FailureRecorder is implemented by stores that can also keep the last
// error of a metric
type FailureRecorder interface {
	PersistFailure(ctx context.Context, id string, message string, at time.Time) error
}

// Importer is implemented by stores that can be seeded with definitions
type Importer interface {
	Import(ctx context.Context, defs []metric.Definition) error
}

// Standard errors
var (
	// ErrMetricNotFound is returned when persisting to an unknown metric id
	ErrMetricNotFound = errors.New("store: metric not found")
	// ErrDuplicateMetric is returned when a load yields the same id twice
	ErrDuplicateMetric = errors.New("store: duplicate metric id")
)

// Backend names
const (
	BackendSQL   = "sql"
	BackendYAML  = "yaml"
	BackendRedis = "redis"
)

// Config selects and configures the store backend
type Config struct {
	Backend string      `toml:"backend"`
	Path    string      `toml:"path"`
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Open builds the configured backend. database is required for the sql
// backend and ignored otherwise.
func Open(ctx context.Context, cfg Config, database *db.DB) (Store, error) {
	switch cfg.Backend {
	case BackendSQL, "":
		if database == nil {
			return nil, fmt.Errorf("store: sql backend requires a database")
		}
		return NewSQLStore(database), nil
	case BackendYAML:
		return NewYAMLStore(cfg.Path), nil
	case BackendRedis:
		return OpenRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// checkUniqueIDs rejects definitions that share an id
func checkUniqueIDs(defs []metric.Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if _, ok := seen[def.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}
