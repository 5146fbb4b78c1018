package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/util"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return epoch.Add(util.Hours(h)) }

func price(series models.SeriesID, t time.Time) float64 {
	base := 100.0
	if series == "ETH" {
		base = 20
	}
	i := float64(t.Unix()/3600) - float64(epoch.Unix()/3600)
	return base + 0.01*i + 2*math.Sin(2*math.Pi*i/24)
}

// fakeSource serves price() for every hour except those in gaps.
type fakeSource struct {
	mu        sync.Mutex
	fail      map[models.SeriesID]error
	gaps      map[int64]bool
	requested [][]time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{fail: map[models.SeriesID]error{}, gaps: map[int64]bool{}}
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) FetchRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error) {
	return s.FetchHours(ctx, series, util.HourRange(util.CeilHour(from), util.FloorHour(to)))
}

func (s *fakeSource) FetchHours(_ context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, append([]time.Time(nil), hours...))
	if err := s.fail[series]; err != nil {
		return nil, err
	}
	var out []models.PricePoint
	for _, h := range hours {
		if s.gaps[h.Unix()] {
			continue
		}
		out = append(out, models.PricePoint{Series: series, Timestamp: h, Price: price(series, h)})
	}
	return out, nil
}

func (s *fakeSource) requests() [][]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]time.Time(nil), s.requested...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingSink struct {
	mu      sync.Mutex
	reports []models.TickReport
}

func (s *recordingSink) PublishReport(_ context.Context, r models.TickReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (heldLocker) Unlock(context.Context, string) error                        { return nil }

// stubPredictor returns a fixed prediction and records requested horizons.
type stubPredictor struct {
	origin   time.Time
	values   func(horizon int) []float64
	err      error
	horizons []int
}

func (p *stubPredictor) Predict(_ context.Context, _ *models.Artifact, _ models.HistoricalWindow, horizon int) (models.Prediction, error) {
	p.horizons = append(p.horizons, horizon)
	if p.err != nil {
		return models.Prediction{}, p.err
	}
	return models.Prediction{Origin: p.origin, Values: p.values(horizon)}, nil
}

func ramp(horizon int) []float64 {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

var errUpstream = errors.New("upstream unavailable")
