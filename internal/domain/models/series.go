package models

import (
	"sort"
	"time"
)

// SeriesID identifies a tracked series, e.g. "BTC".
type SeriesID string

func (s SeriesID) String() string { return string(s) }

// PricePoint is one hourly observation. Timestamp is hour aligned and UTC.
type PricePoint struct {
	Series    SeriesID  `json:"series"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// HistoricalWindow is an ordered run of points for one series over [Start, End].
// It may contain gaps; it never contains duplicate timestamps once normalized.
type HistoricalWindow struct {
	Series SeriesID
	Start  time.Time
	End    time.Time
	Points []PricePoint
}

// NewWindow builds a normalized window.
func NewWindow(series SeriesID, start, end time.Time, points []PricePoint) HistoricalWindow {
	w := HistoricalWindow{Series: series, Start: start, End: end, Points: points}
	w.Normalize()
	return w
}

// Normalize sorts points ascending and keeps the first point seen per timestamp.
func (w *HistoricalWindow) Normalize() {
	sort.SliceStable(w.Points, func(i, j int) bool {
		return w.Points[i].Timestamp.Before(w.Points[j].Timestamp)
	})
	out := w.Points[:0]
	for i, p := range w.Points {
		if i > 0 && p.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, p)
	}
	w.Points = out
}

// Slice returns the sub-window [from, to], sharing no backing array with w.
func (w HistoricalWindow) Slice(from, to time.Time) HistoricalWindow {
	var pts []PricePoint
	for _, p := range w.Points {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		pts = append(pts, p)
	}
	return HistoricalWindow{Series: w.Series, Start: from, End: to, Points: pts}
}

func (w HistoricalWindow) Len() int { return len(w.Points) }

func (w HistoricalWindow) Values() []float64 {
	out := make([]float64, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Price
	}
	return out
}

func (w HistoricalWindow) Hours() []time.Time {
	out := make([]time.Time, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Timestamp
	}
	return out
}

// Last returns the most recent point, if any.
func (w HistoricalWindow) Last() (PricePoint, bool) {
	if len(w.Points) == 0 {
		return PricePoint{}, false
	}
	return w.Points[len(w.Points)-1], true
}

// TrainingFrame is the window a model is fitted on.
type TrainingFrame = HistoricalWindow

// TrainingRun records what one fit consumed.
type TrainingRun struct {
	Series       SeriesID  `json:"series"`
	Model        string    `json:"model"`
	FitTimestamp time.Time `json:"fit_timestamp"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Points       int       `json:"points"`
}
