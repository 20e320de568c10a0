package stats

import (
	"context"
	"fmt"

	"github.com/livinlefevreloca/tally/internal/db"
)

// DatabaseWriter persists pass summaries
type DatabaseWriter interface {
	WritePassSummaries(ctx context.Context, summaries []PassSummary) error
}

// DBAdapter writes pass summaries to the refresh_passes table
type DBAdapter struct {
	db *db.DB
}

// NewDBAdapter creates a new database adapter
func NewDBAdapter(database *db.DB) *DBAdapter {
	return &DBAdapter{db: database}
}

// WritePassSummaries inserts every summary. Summaries already recorded
// are skipped so a retried flush does not fail on its own earlier writes.
func (a *DBAdapter) WritePassSummaries(ctx context.Context, summaries []PassSummary) error {
	for _, s := range summaries {
		record := &db.PassRecord{
			PassID:    s.PassID,
			StartedAt: s.StartedAt.UTC(),
			EndedAt:   s.EndedAt.UTC(),
			Total:     s.Total,
			Succeeded: s.Succeeded,
			Failed:    s.Failed,
			Stopped:   s.Stopped,
		}
		if err := a.db.CreatePassRecord(ctx, record); err != nil && !db.IsDuplicate(err) {
			return fmt.Errorf("failed to write pass %s: %w", s.PassID, err)
		}
	}
	return nil
}

// RecentPasses returns up to limit recorded passes, newest first
func (a *DBAdapter) RecentPasses(ctx context.Context, limit int) ([]PassSummary, error) {
	records, err := a.db.GetRecentPasses(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read passes: %w", err)
	}

	out := make([]PassSummary, 0, len(records))
	for _, r := range records {
		out = append(out, PassSummary{
			PassID:    r.PassID,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
			Total:     r.Total,
			Succeeded: r.Succeeded,
			Failed:    r.Failed,
			Stopped:   r.Stopped,
			Duration:  r.EndedAt.Sub(r.StartedAt),
		})
	}
	return out, nil
}
