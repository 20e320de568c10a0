package syncer

import "time"

// ValueUpdate is a refreshed value waiting to be written to the store
type ValueUpdate struct {
	UpdateID string // UUID, for correlating log lines across retries
	MetricID string
	Value    float64
	At       time.Time
	Attempts int
}

// Stats provides current syncer statistics
type Stats struct {
	Buffered int
	Retried  int
	Dropped  int
}
