package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// =============================================================================
// Metric Operations
// =============================================================================

const metricColumns = `id, display_group, display_name, source_type, query_text, position,
		last_value, last_updated_at, last_error, created_at, updated_at`

const insertMetric = `
		INSERT INTO metrics (` + metricColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

// CreateMetric creates a new metric definition
func (db *DB) CreateMetric(ctx context.Context, m *Metric) error {
	stampMetric(m)
	_, err := db.ExecContext(ctx, db.Rebind(insertMetric), metricArgs(m)...)
	return err
}

// CreateMetric creates a new metric definition within a transaction
func (tx *Tx) CreateMetric(ctx context.Context, m *Metric) error {
	stampMetric(m)
	_, err := tx.ExecContext(ctx, tx.db.Rebind(insertMetric), metricArgs(m)...)
	return err
}

func stampMetric(m *Metric) {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
}

func metricArgs(m *Metric) []any {
	return []any{
		m.ID,
		m.DisplayGroup,
		m.DisplayName,
		m.SourceType,
		m.QueryText,
		m.Position,
		m.LastValue,
		m.LastUpdatedAt,
		m.LastError,
		m.CreatedAt,
		m.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetric(row scanner) (*Metric, error) {
	m := &Metric{}
	err := row.Scan(
		&m.ID,
		&m.DisplayGroup,
		&m.DisplayName,
		&m.SourceType,
		&m.QueryText,
		&m.Position,
		&m.LastValue,
		&m.LastUpdatedAt,
		&m.LastError,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMetric retrieves a metric by ID
func (db *DB) GetMetric(ctx context.Context, id string) (*Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE id = ?`

	m, err := scanMetric(db.QueryRowContext(ctx, db.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetAllMetrics retrieves every metric ordered by position, then ID
func (db *DB) GetAllMetrics(ctx context.Context) ([]Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics ORDER BY position, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := []Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return metrics, nil
}

// UpdateMetricValue records a successful refresh and clears the last error
func (db *DB) UpdateMetricValue(ctx context.Context, id string, value float64, at time.Time) error {
	query := `
		UPDATE metrics
		SET last_value = ?, last_updated_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`
	return db.execOne(ctx, query, value, at, time.Now().UTC(), id)
}

// UpdateMetricError records a failed refresh, leaving the last value untouched
func (db *DB) UpdateMetricError(ctx context.Context, id string, message string, at time.Time) error {
	query := `
		UPDATE metrics
		SET last_error = ?, updated_at = ?
		WHERE id = ?
	`
	return db.execOne(ctx, query, message, at, id)
}

// DeleteMetric removes a metric definition
func (db *DB) DeleteMetric(ctx context.Context, id string) error {
	return db.execOne(ctx, `DELETE FROM metrics WHERE id = ?`, id)
}

// execOne runs a statement that must touch exactly one existing row
func (db *DB) execOne(ctx context.Context, query string, args ...any) error {
	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
