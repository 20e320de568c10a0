package store

import (
	"context"
	"fmt"
	"time"

	"github.com/livinlefevreloca/tally/internal/db"
	"github.com/livinlefevreloca/tally/internal/metric"
)

// SQLStore keeps metrics in the metrics table
type SQLStore struct {
	db *db.DB
}

// NewSQLStore creates a store over a migrated database
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

// LoadAll returns every metric ordered by position, then id
func (s *SQLStore) LoadAll(ctx context.Context) ([]metric.Definition, error) {
	rows, err := s.db.GetAllMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	defs := make([]metric.Definition, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, definitionFromRow(row))
	}
	return defs, nil
}

// PersistValue records a successful refresh and clears the stored error
func (s *SQLStore) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	return s.wrap(id, s.db.UpdateMetricValue(ctx, id, value, at.UTC()))
}

// PersistFailure records the last error without touching the stored value
func (s *SQLStore) PersistFailure(ctx context.Context, id string, message string, at time.Time) error {
	return s.wrap(id, s.db.UpdateMetricError(ctx, id, message, at.UTC()))
}

// Import inserts definitions in one transaction, keeping their order
func (s *SQLStore) Import(ctx context.Context, defs []metric.Definition) error {
	return s.db.WithTransaction(ctx, func(tx *db.Tx) error {
		for i, def := range defs {
			row := rowFromDefinition(def, i)
			if err := tx.CreateMetric(ctx, &row); err != nil {
				return fmt.Errorf("import metric %s: %w", def.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) wrap(id string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrMetricNotFound, id)
	}
	return fmt.Errorf("persist metric %s: %w", id, err)
}

func definitionFromRow(row db.Metric) metric.Definition {
	def := metric.Definition{
		ID:            row.ID,
		DisplayGroup:  row.DisplayGroup,
		DisplayName:   row.DisplayName,
		SourceType:    metric.SourceType(row.SourceType),
		QueryText:     row.QueryText,
		LastValue:     row.LastValue,
		LastUpdatedAt: row.LastUpdatedAt,
	}
	if row.LastError != nil {
		def.LastError = *row.LastError
	}
	return def
}

func rowFromDefinition(def metric.Definition, position int) db.Metric {
	row := db.Metric{
		ID:            def.ID,
		DisplayGroup:  def.DisplayGroup,
		DisplayName:   def.DisplayName,
		SourceType:    string(def.SourceType),
		QueryText:     def.QueryText,
		Position:      position,
		LastValue:     def.LastValue,
		LastUpdatedAt: def.LastUpdatedAt,
	}
	if def.LastError != "" {
		msg := def.LastError
		row.LastError = &msg
	}
	return row
}
