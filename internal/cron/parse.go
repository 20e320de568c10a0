package cron

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

var macros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a 5-field cron expression or one of the @hourly style
// macros. Schedules that can never fire, such as "0 0 31 2 *", are
// rejected.
func Parse(expr string) (*Schedule, error) {
	spec := strings.TrimSpace(expr)
	if m, ok := macros[spec]; ok {
		spec = m
	}

	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseField(f, fieldBounds[i])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", fieldBounds[i].name, err)
		}
		sets[i] = set
	}

	s := &Schedule{
		minutes:     sets[0],
		hours:       sets[1],
		daysOfMonth: sets[2],
		months:      sets[3],
		daysOfWeek:  sets[4],
		expr:        expr,
	}

	if err := checkReachable(s); err != nil {
		return nil, err
	}
	return s, nil
}

// parseField accepts *, N, N-M, */S, N-M/S and comma-separated lists of those
func parseField(field string, b bounds) (uint64, error) {
	if field == "" {
		return 0, fmt.Errorf("empty field")
	}

	var set uint64
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("empty value in list")
		}
		partSet, err := parsePart(part, b)
		if err != nil {
			return 0, err
		}
		set |= partSet
	}
	return set, nil
}

func parsePart(part string, b bounds) (uint64, error) {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")

	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil {
			return 0, fmt.Errorf("invalid step value %q", stepPart)
		}
		if n <= 0 {
			return 0, fmt.Errorf("step must be greater than 0")
		}
		step = n
	}

	lo, hi := b.min, b.max
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		startStr, endStr, _ := strings.Cut(rangePart, "-")
		start, err := parseValue(startStr, b)
		if err != nil {
			return 0, err
		}
		end, err := parseValue(endStr, b)
		if err != nil {
			return 0, err
		}
		if start > end {
			return 0, fmt.Errorf("invalid range: start %d > end %d", start, end)
		}
		lo, hi = start, end
	default:
		if hasStep {
			return 0, fmt.Errorf("step requires * or a range, got %q", part)
		}
		v, err := parseValue(rangePart, b)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
	}

	var set uint64
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func parseValue(s string, b bounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, b.min, b.max)
	}
	return v, nil
}

// maxDays is the longest length of each month, counting leap years
var maxDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// checkReachable rejects day-of-month/month combinations that never occur.
// A restricted day-of-week keeps the schedule reachable through the OR rule.
func checkReachable(s *Schedule) error {
	if bits.OnesCount64(s.daysOfWeek) < 7 {
		return nil
	}
	for month := 1; month <= 12; month++ {
		if !has(s.months, month) {
			continue
		}
		for day := 1; day <= maxDays[month]; day++ {
			if has(s.daysOfMonth, day) {
				return nil
			}
		}
	}
	return fmt.Errorf("impossible date: schedule %q never fires", s.expr)
}
