package metric

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a single metric refresh did not produce a value
type FailureKind string

const (
	// No executor is registered for the metric's source type
	KindUnknownSourceType FailureKind = "UnknownSourceType"
	// The executor failed to run the query (connectivity, syntax, permission, timeout)
	KindExecutionFailure FailureKind = "ExecutionFailure"
	// The query returned no rows
	KindEmptyResult FailureKind = "EmptyResult"
	// The extracted value could not be interpreted as a number
	KindNonNumericResult FailureKind = "NonNumericResult"
	// The store could not durably save the refreshed value
	KindPersistFailure FailureKind = "PersistFailure"
)

// Failure is a per-metric, non-fatal refresh failure
type Failure struct {
	Kind FailureKind
	Err  error
}

// NewFailure wraps err with a failure kind
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// Failf builds a failure with a formatted detail message
func Failf(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error returns the kind alone when there is no detail
func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps any error returned across the executor boundary to a
// Failure. Errors that are not already failures are execution failures.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindExecutionFailure, Err: err}
}

// KindOf returns the failure kind of err, or "" when err is nil
func KindOf(err error) FailureKind {
	if f := Classify(err); f != nil {
		return f.Kind
	}
	return ""
}
