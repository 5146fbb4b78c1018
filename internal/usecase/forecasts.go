package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/pkg/util"
)

// ErrMirrorDisabled is returned by queries that need the analytics mirror when none is configured.
var ErrMirrorDisabled = errors.New("analytics mirror disabled")

// ForecastsUseCase serves stored forecasts, history and model state to the API.
type ForecastsUseCase struct {
	forecasts domrepo.ForecastStore
	history   domrepo.HistoricalStore
	states    domrepo.StateStore
	mirror    domrepo.ForecastMirror
	series    map[models.SeriesID]struct{}
	descs     map[string]models.ModelDescriptor
	clock     Clock
	timeout   time.Duration
}

// NewForecastsUseCase builds the query side. mirror may be nil.
func NewForecastsUseCase(forecasts domrepo.ForecastStore, history domrepo.HistoricalStore, states domrepo.StateStore, mirror domrepo.ForecastMirror, series []models.SeriesID, descs []models.ModelDescriptor, clock Clock) *ForecastsUseCase {
	uc := &ForecastsUseCase{
		forecasts: forecasts,
		history:   history,
		states:    states,
		mirror:    mirror,
		series:    make(map[models.SeriesID]struct{}, len(series)),
		descs:     make(map[string]models.ModelDescriptor, len(descs)),
		clock:     clock,
		timeout:   10 * time.Second,
	}
	if uc.clock == nil {
		uc.clock = SystemClock{}
	}
	for _, s := range series {
		uc.series[s] = struct{}{}
	}
	for _, d := range descs {
		uc.descs[d.Name] = d
	}
	return uc
}

type GetForecastParams struct {
	Series models.SeriesID
	Model  string
	// History is how many hours of actuals before the issue hour to include.
	History int
}

type GetForecastResult struct {
	Series     models.SeriesID         `json:"series"`
	Model      string                  `json:"model"`
	ModelExt   string                  `json:"model_name_ext"`
	Issue      *time.Time              `json:"zero_step_ts,omitempty"`
	Count      int                     `json:"count"`
	Records    []models.ForecastRecord `json:"records"`
	History    []models.PricePoint     `json:"history,omitempty"`
	LastUpdate *models.ModelState      `json:"state,omitempty"`
}

func (uc *ForecastsUseCase) validate(series models.SeriesID, model string) (models.ModelDescriptor, error) {
	if series == "" {
		return models.ModelDescriptor{}, fmt.Errorf("series required")
	}
	if _, ok := uc.series[series]; !ok {
		return models.ModelDescriptor{}, fmt.Errorf("%w: %q", models.ErrUnknownSeries, series)
	}
	desc, ok := uc.descs[model]
	if !ok {
		return models.ModelDescriptor{}, fmt.Errorf("%w: %q", models.ErrUnknownModel, model)
	}
	return desc, nil
}

// GetForecast returns the latest forecast batch for a pair.
func (uc *ForecastsUseCase) GetForecast(ctx context.Context, p GetForecastParams) (*GetForecastResult, error) {
	desc, err := uc.validate(p.Series, p.Model)
	if err != nil {
		return nil, err
	}
	if p.History < 0 {
		p.History = 0
	}
	if p.History > 2000 {
		p.History = 2000
	}

	records, err := uc.forecasts.LatestForecast(ctx, p.Series, p.Model)
	if err != nil {
		return nil, fmt.Errorf("latest forecast: %w", err)
	}
	res := &GetForecastResult{
		Series:   p.Series,
		Model:    p.Model,
		ModelExt: desc.ExtendedName(),
		Count:    len(records),
		Records:  records,
	}

	anchor := util.FloorHour(uc.clock.Now())
	if len(records) > 0 {
		issue := records[0].IssueTimestamp
		res.Issue = &issue
		anchor = issue
	}
	if p.History > 0 {
		pts, err := uc.history.HistoricalRange(ctx, p.Series, anchor.Add(-util.Hours(p.History-1)), anchor)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		res.History = pts
	}
	if st, found, err := uc.states.Get(ctx, models.PairKey{Series: p.Series, Model: p.Model}); err == nil && found {
		res.LastUpdate = &st
	}
	return res, nil
}

// States lists model state, optionally for one series.
func (uc *ForecastsUseCase) States(ctx context.Context, series models.SeriesID) ([]models.ModelState, error) {
	all, err := uc.states.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	if series == "" {
		return all, nil
	}
	out := all[:0]
	for _, st := range all {
		if st.Series == series {
			out = append(out, st)
		}
	}
	return out, nil
}

// ErrorStats returns forecast accuracy per model over the last days.
func (uc *ForecastsUseCase) ErrorStats(ctx context.Context, series models.SeriesID, days int) ([]models.ForecastErrorStats, error) {
	if uc.mirror == nil {
		return nil, ErrMirrorDisabled
	}
	if _, ok := uc.series[series]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownSeries, series)
	}
	if days <= 0 {
		days = 30
	}
	since := uc.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return uc.mirror.ErrorStats(ctx, series, since)
}

type SeriesOverview struct {
	Series    models.SeriesID                    `json:"series"`
	Forecasts map[string][]models.ForecastRecord `json:"forecasts"`
	Errors    map[string]string                  `json:"errors,omitempty"`
}

// Overview fetches the latest forecast of every model for a series concurrently.
func (uc *ForecastsUseCase) Overview(ctx context.Context, series models.SeriesID) (*SeriesOverview, error) {
	if _, ok := uc.series[series]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownSeries, series)
	}
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	names := make([]string, 0, len(uc.descs))
	for name := range uc.descs {
		names = append(names, name)
	}
	sort.Strings(names)

	type item struct {
		model   string
		records []models.ForecastRecord
		err     error
	}
	ch := make(chan item, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			recs, err := uc.forecasts.LatestForecast(ctx, series, model)
			ch <- item{model, recs, err}
		}(name)
	}
	go func() { wg.Wait(); close(ch) }()

	res := &SeriesOverview{Series: series, Forecasts: map[string][]models.ForecastRecord{}, Errors: map[string]string{}}
	for it := range ch {
		if it.err != nil {
			res.Errors[it.model] = it.err.Error()
			continue
		}
		res.Forecasts[it.model] = it.records
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

// Series returns the configured series in order.
func (uc *ForecastsUseCase) Series() []models.SeriesID {
	out := make([]models.SeriesID, 0, len(uc.series))
	for s := range uc.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
