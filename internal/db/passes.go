package db

import "context"

// =============================================================================
// Pass History Operations
// =============================================================================

// CreatePassRecord stores the summary of a finished refresh pass
func (db *DB) CreatePassRecord(ctx context.Context, p *PassRecord) error {
	query := `
		INSERT INTO refresh_passes (pass_id, started_at, ended_at, total, succeeded, failed, stopped)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, db.Rebind(query),
		p.PassID,
		p.StartedAt,
		p.EndedAt,
		p.Total,
		p.Succeeded,
		p.Failed,
		p.Stopped,
	)
	return err
}

// GetRecentPasses returns up to limit passes, newest first
func (db *DB) GetRecentPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	query := `
		SELECT pass_id, started_at, ended_at, total, succeeded, failed, stopped
		FROM refresh_passes
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, db.Rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	passes := []PassRecord{}
	for rows.Next() {
		var p PassRecord
		if err := rows.Scan(
			&p.PassID,
			&p.StartedAt,
			&p.EndedAt,
			&p.Total,
			&p.Succeeded,
			&p.Failed,
			&p.Stopped,
		); err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return passes, nil
}
