// Package source runs metric queries against upstream systems and turns
// the first row of the result into a single number.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// Executor runs query text against one upstream source and returns a
// scalar. Failures are returned as *metric.Failure values.
type Executor interface {
	Execute(ctx context.Context, queryText string) (float64, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, queryText string) (float64, error)

func (f ExecutorFunc) Execute(ctx context.Context, queryText string) (float64, error) {
	return f(ctx, queryText)
}

// Standard errors
var (
	ErrDuplicateSourceType = errors.New("source: duplicate source type")
	ErrEmptySourceType     = errors.New("source: empty source type")
)

// Registry maps source types to executors. It is built once at startup
// and only read afterwards.
type Registry struct {
	executors map[metric.SourceType]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[metric.SourceType]Executor)}
}

// NewRegistryFromConfig builds a SQL executor for every configured source
func NewRegistryFromConfig(configs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range configs {
		if err := r.Register(metric.SourceType(cfg.Type), NewSQLExecutor(cfg)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an executor for a source type
func (r *Registry) Register(sourceType metric.SourceType, executor Executor) error {
	if sourceType == "" {
		return ErrEmptySourceType
	}
	if _, exists := r.executors[sourceType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSourceType, sourceType)
	}
	r.executors[sourceType] = executor
	return nil
}

// Lookup returns the executor registered for a source type
func (r *Registry) Lookup(sourceType metric.SourceType) (Executor, bool) {
	executor, ok := r.executors[sourceType]
	return executor, ok
}

// Types returns the registered source types in sorted order
func (r *Registry) Types() []metric.SourceType {
	types := make([]metric.SourceType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
