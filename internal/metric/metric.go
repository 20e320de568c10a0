package metric

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies which source executor handles a metric
type SourceType string

// Definition represents one dashboard value computed by running a query
// against an upstream source
type Definition struct {
	ID           string
	DisplayGroup string
	DisplayName  string
	SourceType   SourceType
	QueryText    string

	// Last known-good reading, nil until the first successful run
	LastValue     *float64
	LastUpdatedAt *time.Time
	LastError     string
}

// Runnable reports whether the definition has query text to dispatch
func (d *Definition) Runnable() bool {
	return strings.TrimSpace(d.QueryText) != ""
}

// Label returns the display name, falling back to the id
func (d *Definition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// RecordSuccess stores a fresh value and clears any previous error
func (d *Definition) RecordSuccess(value float64, at time.Time) {
	d.LastValue = &value
	d.LastUpdatedAt = &at
	d.LastError = ""
}

// RecordFailure stores the failure message. The last value is kept so a
// failed refresh never erases the last known-good reading.
func (d *Definition) RecordFailure(message string) {
	d.LastError = message
}

// Clone returns a deep copy of the definition
func (d Definition) Clone() Definition {
	if d.LastValue != nil {
		v := *d.LastValue
		d.LastValue = &v
	}
	if d.LastUpdatedAt != nil {
		t := *d.LastUpdatedAt
		d.LastUpdatedAt = &t
	}
	return d
}

// Status is the lifecycle position of a single metric within a pass
type Status int

const (
	StatusQueued Status = iota
	StatusActive
	StatusCompleted
	StatusErrored
)

// String returns a human-readable representation of the metric status
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "queued":
		*s = StatusQueued
	case "active":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	case "errored":
		*s = StatusErrored
	default:
		return fmt.Errorf("unknown metric status %q", text)
	}
	return nil
}
