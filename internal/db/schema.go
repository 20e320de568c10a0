package db

import "time"

// Metric is a row of the metrics table
type Metric struct {
	ID            string
	DisplayGroup  string
	DisplayName   string
	SourceType    string
	QueryText     string
	Position      int
	LastValue     *float64
	LastUpdatedAt *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PassRecord summarizes one refresh pass
type PassRecord struct {
	PassID    string
	StartedAt time.Time
	EndedAt   time.Time
	Total     int
	Succeeded int
	Failed    int
	Stopped   bool
}
