package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("empty: got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("invalid: got %d", got)
	}
	if got := ParseIntDefault("9092", 7); got != 9092 {
		t.Fatalf("valid: got %d", got)
	}
}

func TestFloorAndCeilHour(t *testing.T) {
	in := time.Date(2024, 1, 1, 5, 30, 0, 0, time.UTC)
	if got := FloorHour(in); !got.Equal(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("floor: %v", got)
	}
	if got := CeilHour(in); !got.Equal(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("ceil: %v", got)
	}
	aligned := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	if got := CeilHour(aligned); !got.Equal(aligned) {
		t.Fatalf("ceil of aligned hour moved: %v", got)
	}
}

func TestHourRangeInclusive(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	got := HourRange(from, to)
	if len(got) != 4 {
		t.Fatalf("expected 4 hours, got %d", len(got))
	}
	if !got[0].Equal(from) || !got[3].Equal(to) {
		t.Fatalf("bounds not inclusive: %v", got)
	}
	if HourRange(to, from) != nil {
		t.Fatalf("reversed range should be empty")
	}
}

func TestHourRuns(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hours := []time.Time{base, base.Add(time.Hour), base.Add(5 * time.Hour), base.Add(6 * time.Hour), base.Add(9 * time.Hour)}
	runs := HourRuns(hours)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if len(runs[0]) != 2 || len(runs[1]) != 2 || len(runs[2]) != 1 {
		t.Fatalf("unexpected run sizes: %v", runs)
	}
}

func TestBracketParams(t *testing.T) {
	got := BracketParams(map[string]any{"trend": "add", "seasonal_periods": 24})
	if got != "[seasonal_periods=24]_[trend=add]" {
		t.Fatalf("unexpected params %q", got)
	}
}
