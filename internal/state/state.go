// Package state holds the process-wide execution state of the refresh
// worker and fans snapshots of it out to observers.
package state

import (
	"time"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// Status is the worker-level execution status
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// MetricState is the published view of one metric
type MetricState struct {
	ID           string        `json:"id"`
	DisplayGroup string        `json:"displayGroup,omitempty"`
	DisplayName  string        `json:"displayName,omitempty"`
	SourceType   string        `json:"sourceType"`
	Status       metric.Status `json:"status"`
	Value        *float64      `json:"value"`
	Error        string        `json:"error,omitempty"`
	UpdatedAt    *time.Time    `json:"updatedAt,omitempty"`
}

// Snapshot is an immutable copy of the execution state.
// ActiveMetricID is empty when no metric is being processed.
type Snapshot struct {
	Status         Status                 `json:"status"`
	ActiveMetricID string                 `json:"activeMetricId"`
	TotalCount     int                    `json:"totalCount"`
	ProcessedCount int                    `json:"processedCount"`
	LastMessage    string                 `json:"lastMessage"`
	PassID         string                 `json:"passId,omitempty"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	Metrics        map[string]MetricState `json:"metrics"`
}

// Metric returns the published state of one metric
func (s Snapshot) Metric(id string) (MetricState, bool) {
	m, ok := s.Metrics[id]
	return m, ok
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Metrics = make(map[string]MetricState, len(s.Metrics))
	for id, m := range s.Metrics {
		if m.Value != nil {
			v := *m.Value
			m.Value = &v
		}
		if m.UpdatedAt != nil {
			t := *m.UpdatedAt
			m.UpdatedAt = &t
		}
		out.Metrics[id] = m
	}
	return out
}

// metricStateFrom builds the published view of a definition
func metricStateFrom(def *metric.Definition, status metric.Status) MetricState {
	clone := def.Clone()
	return MetricState{
		ID:           def.ID,
		DisplayGroup: def.DisplayGroup,
		DisplayName:  def.DisplayName,
		SourceType:   string(def.SourceType),
		Status:       status,
		Value:        clone.LastValue,
		Error:        def.LastError,
		UpdatedAt:    clone.LastUpdatedAt,
	}
}
