package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// FloorHour truncates t to the start of its UTC hour.
func FloorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// CeilHour rounds t up to the next UTC hour boundary unless it already sits on one.
func CeilHour(t time.Time) time.Time {
	f := FloorHour(t)
	if f.Equal(t.UTC()) {
		return f
	}
	return f.Add(time.Hour)
}

// HourRange lists every hour boundary in [from, to], both ends inclusive.
// from is rounded up and to is rounded down, so partial hours at the edges are dropped.
func HourRange(from, to time.Time) []time.Time {
	start, end := CeilHour(from), FloorHour(to)
	if end.Before(start) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start)/time.Hour)+1)
	for t := start; !t.After(end); t = t.Add(time.Hour) {
		out = append(out, t)
	}
	return out
}

// Hours converts a whole number of hours into a duration.
func Hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

// HourRuns splits sorted hour timestamps into maximal runs of consecutive hours.
func HourRuns(hours []time.Time) [][]time.Time {
	var runs [][]time.Time
	var cur []time.Time
	for _, h := range hours {
		if len(cur) > 0 && !h.Equal(cur[len(cur)-1].Add(time.Hour)) {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, h)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}
