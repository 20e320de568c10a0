// Package cron parses standard 5-field cron expressions and computes
// their next occurrence. It paces continuous refresh cycles.
package cron

import (
	"math/bits"
	"time"
)

// searchHorizon bounds Next for schedules that match very rarely
const searchHorizon = 5 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression. Each field is a bit set where bit
// n is set when value n is allowed.
type Schedule struct {
	minutes     uint64 // 0-59
	hours       uint64 // 0-23
	daysOfMonth uint64 // 1-31
	months      uint64 // 1-12
	daysOfWeek  uint64 // 0-6 (0=Sunday)

	expr string
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first occurrence strictly after t, in t's location.
// The zero time is returned when nothing matches within five years.
func (s *Schedule) Next(t time.Time) time.Time {
	loc := t.Location()
	cur := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(searchHorizon)

	for cur.Before(limit) {
		if !has(s.months, int(cur.Month())) {
			cur = time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.matchesDay(cur) {
			cur = time.Date(cur.Year(), cur.Month(), cur.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !has(s.hours, cur.Hour()) {
			cur = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !has(s.minutes, cur.Minute()) {
			cur = cur.Add(time.Minute)
			continue
		}
		return cur
	}
	return time.Time{}
}

// Matches reports whether t, truncated to the minute, is an occurrence
func (s *Schedule) Matches(t time.Time) bool {
	return has(s.minutes, t.Minute()) &&
		has(s.hours, t.Hour()) &&
		has(s.months, int(t.Month())) &&
		s.matchesDay(t)
}

// matchesDay applies the usual cron rule: when both day fields are
// restricted a day matches if either does, otherwise only the restricted
// one counts
func (s *Schedule) matchesDay(t time.Time) bool {
	domRestricted := bits.OnesCount64(s.daysOfMonth) < 31
	dowRestricted := bits.OnesCount64(s.daysOfWeek) < 7

	dom := has(s.daysOfMonth, t.Day())
	dow := has(s.daysOfWeek, int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return dom || dow
	case domRestricted:
		return dom
	case dowRestricted:
		return dow
	default:
		return true
	}
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}
