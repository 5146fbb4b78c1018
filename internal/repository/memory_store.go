package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/pkg/util"
)

// MemoryStore keeps historical points, forecasts and training runs in process.
// It backs storage.backend=memory and the scheduler tests.
type MemoryStore struct {
	mu        sync.RWMutex
	points    map[models.SeriesID]map[int64]models.PricePoint
	forecasts []models.ForecastRecord
	seen      map[forecastKey]struct{}
	batches   []models.ForecastBatch
	runs      []models.TrainingRun
}

// forecastKey mirrors the (timestamp, currency, model, forecast_step) unique key.
type forecastKey struct {
	predicted int64
	series    models.SeriesID
	model     string
	step      int
}

func keyOf(r models.ForecastRecord) forecastKey {
	return forecastKey{predicted: r.PredictedTimestamp.Unix(), series: r.Series, model: r.Model, step: r.Step}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points: make(map[models.SeriesID]map[int64]models.PricePoint),
		seen:   make(map[forecastKey]struct{}),
	}
}

// UpsertHistorical ignores timestamps that are already stored.
func (s *MemoryStore) UpsertHistorical(_ context.Context, points []models.PricePoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, p := range points {
		byHour, ok := s.points[p.Series]
		if !ok {
			byHour = make(map[int64]models.PricePoint)
			s.points[p.Series] = byHour
		}
		p.Timestamp = util.FloorHour(p.Timestamp)
		key := p.Timestamp.Unix()
		if _, exists := byHour[key]; exists {
			continue
		}
		byHour[key] = p
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) HistoricalRange(_ context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PricePoint
	for _, p := range s.points[series] {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) ExistingHours(ctx context.Context, series models.SeriesID, from, to time.Time) ([]time.Time, error) {
	pts, err := s.HistoricalRange(ctx, series, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(pts))
	for i, p := range pts {
		out[i] = p.Timestamp
	}
	return out, nil
}

func (s *MemoryStore) SaveForecasts(_ context.Context, batch models.ForecastBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []models.ForecastRecord
	for _, r := range batch.Records {
		k := keyOf(r)
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}
	batch.Records = fresh
	s.batches = append(s.batches, batch)
	s.forecasts = append(s.forecasts, fresh...)
	return nil
}

// LatestForecast returns the records of the most recent issue hour for the pair.
func (s *MemoryStore) LatestForecast(_ context.Context, series models.SeriesID, model string) ([]models.ForecastRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, r := range s.forecasts {
		if r.Series == series && r.Model == model && r.IssueTimestamp.After(latest) {
			latest = r.IssueTimestamp
		}
	}
	var out []models.ForecastRecord
	for _, r := range s.forecasts {
		if r.Series == series && r.Model == model && r.IssueTimestamp.Equal(latest) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (s *MemoryStore) DeleteForecastsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.forecasts[:0]
	var removed int64
	for _, r := range s.forecasts {
		if r.IssueTimestamp.Before(cutoff) {
			delete(s.seen, keyOf(r))
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.forecasts = kept

	batches := s.batches[:0]
	for _, b := range s.batches {
		if len(b.Records) > 0 && b.Records[0].IssueTimestamp.Before(cutoff) {
			continue
		}
		batches = append(batches, b)
	}
	s.batches = batches
	return removed, nil
}

// RefreshCombinedView is a no-op; reads always see current data.
func (s *MemoryStore) RefreshCombinedView(context.Context) error { return nil }

func (s *MemoryStore) RecordTraining(_ context.Context, run models.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// TrainingRuns returns a copy of every recorded run.
func (s *MemoryStore) TrainingRuns() []models.TrainingRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TrainingRun(nil), s.runs...)
}

// Batches returns a copy of every saved forecast batch.
func (s *MemoryStore) Batches() []models.ForecastBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ForecastBatch(nil), s.batches...)
}

var (
	_ domrepo.HistoricalStore = (*MemoryStore)(nil)
	_ domrepo.ForecastStore   = (*MemoryStore)(nil)
	_ domrepo.TrainingLog     = (*MemoryStore)(nil)
)

// MemoryStateStore is the in-process StateStore.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[models.PairKey]models.ModelState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[models.PairKey]models.ModelState)}
}

func (s *MemoryStateStore) Get(_ context.Context, key models.PairKey) (models.ModelState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	return copyState(st), ok, nil
}

// Init creates the state with both timestamps absent. An existing state is returned unchanged.
func (s *MemoryStateStore) Init(_ context.Context, key models.PairKey) (models.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return copyState(st), nil
	}
	st := models.ModelState{Series: key.Series, Model: key.Model}
	s.states[key] = st
	return st, nil
}

func (s *MemoryStateStore) MarkRetrained(_ context.Context, key models.PairKey, at time.Time) error {
	s.update(key, func(st *models.ModelState) { st.LastRetrain = &at })
	return nil
}

func (s *MemoryStateStore) MarkForecasted(_ context.Context, key models.PairKey, at time.Time) error {
	s.update(key, func(st *models.ModelState) { st.LastForecast = &at })
	return nil
}

func (s *MemoryStateStore) update(key models.PairKey, fn func(*models.ModelState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		st = models.ModelState{Series: key.Series, Model: key.Model}
	}
	fn(&st)
	s.states[key] = st
}

func (s *MemoryStateStore) List(context.Context) ([]models.ModelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModelState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, copyState(st))
	}
	sortStates(out)
	return out, nil
}

func copyState(st models.ModelState) models.ModelState {
	if st.LastRetrain != nil {
		t := *st.LastRetrain
		st.LastRetrain = &t
	}
	if st.LastForecast != nil {
		t := *st.LastForecast
		st.LastForecast = &t
	}
	return st
}

func sortStates(states []models.ModelState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Series != states[j].Series {
			return states[i].Series < states[j].Series
		}
		return states[i].Model < states[j].Model
	})
}

var _ domrepo.StateStore = (*MemoryStateStore)(nil)
