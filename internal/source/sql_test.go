package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSQLiteSource creates a file-backed sqlite database seeded with an
// orders table and returns a source config pointing at it
func newSQLiteSource(t *testing.T) Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "desktop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT, amount REAL, note TEXT);
		INSERT INTO orders (region, amount, note) VALUES
			('north', 10.5, 'x'),
			('north', 4.5, 'y'),
			('south', 20, '1,250');
	`)
	require.NoError(t, err)

	return Config{Type: "desktop", Driver: "sqlite3", DSN: path}
}

func TestSQLExecutor_Execute(t *testing.T) {
	exec := NewSQLExecutor(newSQLiteSource(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		want    float64
		wantErr metric.FailureKind
	}{
		{name: "aggregate", query: "SELECT SUM(amount) FROM orders WHERE region = 'north'", want: 15},
		{name: "count", query: "SELECT COUNT(*) FROM orders", want: 3},
		{name: "value column", query: "SELECT region, amount AS value FROM orders WHERE region = 'south'", want: 20},
		{name: "text column parsed", query: "SELECT note FROM orders WHERE region = 'south'", want: 1250},
		{name: "sum over no rows is null", query: "SELECT SUM(amount) FROM orders WHERE region = 'east'", want: 0},
		{name: "no rows", query: "SELECT amount FROM orders WHERE region = 'east'", wantErr: metric.KindEmptyResult},
		{name: "non numeric", query: "SELECT region FROM orders LIMIT 1", wantErr: metric.KindNonNumericResult},
		{name: "syntax error", query: "SELEC amount FROM", wantErr: metric.KindExecutionFailure},
		{name: "missing table", query: "SELECT 1 FROM nope", wantErr: metric.KindExecutionFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exec.Execute(ctx, tt.query)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, metric.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSQLExecutor_UnknownDriver(t *testing.T) {
	exec := NewSQLExecutor(Config{Type: "erp", Driver: "nope", DSN: "x"})

	_, err := exec.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, metric.KindExecutionFailure, metric.KindOf(err))
}

func TestSQLExecutor_CancelledContext(t *testing.T) {
	exec := NewSQLExecutor(newSQLiteSource(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := exec.Execute(ctx, "SELECT COUNT(*) FROM orders")
	require.Error(t, err)
	assert.Equal(t, metric.KindExecutionFailure, metric.KindOf(err))
}
