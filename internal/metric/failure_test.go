package metric

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailure_Error(t *testing.T) {
	assert.Equal(t, "UnknownSourceType", (&Failure{Kind: KindUnknownSourceType}).Error())
	assert.Equal(t, "EmptyResult: query returned no rows",
		Failf(KindEmptyResult, "query returned no rows").Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("connection refused"), want: KindExecutionFailure},
		{name: "deadline", err: context.DeadlineExceeded, want: KindExecutionFailure},
		{name: "failure", err: Failf(KindNonNumericResult, "abc"), want: KindNonNumericResult},
		{name: "wrapped failure", err: fmt.Errorf("executor: %w", Failf(KindEmptyResult, "none")), want: KindEmptyResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFailure_Unwrap(t *testing.T) {
	f := NewFailure(KindExecutionFailure, context.Canceled)
	assert.ErrorIs(t, f, context.Canceled)
}
