package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// preferredColumn is tried before falling back to the first column
const preferredColumn = "value"

// FromRow extracts a number from a single result row.
// Columns are tried in order: a column named "value" (case-insensitive),
// then the first column. Each candidate goes through Coerce.
func FromRow(columns []string, values []any) (float64, error) {
	if len(values) == 0 {
		return 0, metric.Failf(metric.KindEmptyResult, "result row has no columns")
	}

	var lastErr error
	for _, idx := range candidateColumns(columns, len(values)) {
		v, err := Coerce(values[idx])
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func candidateColumns(columns []string, n int) []int {
	candidates := make([]int, 0, 2)
	for i, name := range columns {
		if i < n && strings.EqualFold(strings.TrimSpace(name), preferredColumn) {
			candidates = append(candidates, i)
			break
		}
	}
	if len(candidates) == 0 || candidates[0] != 0 {
		candidates = append(candidates, 0)
	}
	return candidates
}

// Coerce interprets a driver value as a number.
// NULL and empty strings are read as zero, which is what SQL aggregates
// over no rows produce.
func Coerce(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case []byte:
		return parseNumeric(string(n))
	case string:
		return parseNumeric(n)
	case fmt.Stringer:
		return parseNumeric(n.String())
	default:
		return 0, metric.Failf(metric.KindNonNumericResult, "unsupported value type %T", v)
	}
}

func parseNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	cleaned := strings.NewReplacer(",", "", " ", "", "_", "").Replace(s)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, metric.Failf(metric.KindNonNumericResult, "cannot parse %q as a number", s)
	}
	return finite(f)
}

// finite rejects NaN and infinities, which have no JSON encoding
func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, metric.Failf(metric.KindNonNumericResult, "value %v is not a finite number", f)
	}
	return f, nil
}
