package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// SQLExecutor runs queries through a database/sql driver.
// Every call opens its own connection and closes it before returning, so
// nothing is pooled between metrics.
type SQLExecutor struct {
	sourceType string
	driver     string
	dsn        string
}

// NewSQLExecutor creates an executor for a configured source
func NewSQLExecutor(cfg Config) *SQLExecutor {
	return &SQLExecutor{
		sourceType: cfg.Type,
		driver:     cfg.Driver,
		dsn:        cfg.DSN,
	}
}

// Execute runs queryText and extracts a number from the first row
func (e *SQLExecutor) Execute(ctx context.Context, queryText string) (float64, error) {
	db, err := sql.Open(e.driver, e.dsn)
	if err != nil {
		return 0, metric.NewFailure(metric.KindExecutionFailure, fmt.Errorf("open %s source %s: %w", e.driver, e.sourceType, err))
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryContext(ctx, queryText)
	if err != nil {
		return 0, metric.NewFailure(metric.KindExecutionFailure, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, metric.NewFailure(metric.KindExecutionFailure, fmt.Errorf("read columns: %w", err))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, metric.NewFailure(metric.KindExecutionFailure, err)
		}
		return 0, metric.Failf(metric.KindEmptyResult, "query returned no rows")
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return 0, metric.NewFailure(metric.KindExecutionFailure, fmt.Errorf("scan first row: %w", err))
	}

	return FromRow(columns, values)
}
