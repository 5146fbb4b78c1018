package algorithms

import (
	"context"
	"fmt"
	"math"

	"ForeCrypt/internal/domain/models"
)

// ETS is Holt-Winters exponential smoothing with optional additive trend and
// additive or multiplicative seasonality. Smoothing constants are chosen by
// minimizing the one-step-ahead squared error.
type ETS struct{}

func NewETS() *ETS { return &ETS{} }

func (*ETS) Name() string { return "ets" }

func (*ETS) Defaults() models.Params {
	return models.Params{"trend": "add", "seasonal": "add", "seasonal_periods": 24}
}

type etsConfig struct {
	Trend    string `msgpack:"trend"`    // add | none
	Seasonal string `msgpack:"seasonal"` // add | mul | none
	Period   int    `msgpack:"period"`
}

type etsState struct {
	Config etsConfig `msgpack:"config"`
	Alpha  float64   `msgpack:"alpha"`
	Beta   float64   `msgpack:"beta"`
	Gamma  float64   `msgpack:"gamma"`
	Level  float64   `msgpack:"level"`
	Slope  float64   `msgpack:"slope"`
	// Season is indexed by hour phase, see hourPhase.
	Season []float64 `msgpack:"season"`
	Tail   tail      `msgpack:"tail"`
}

func etsConfigFrom(params models.Params) (etsConfig, error) {
	cfg := etsConfig{
		Trend:    stringParam(params, "trend", "add"),
		Seasonal: stringParam(params, "seasonal", "add"),
	}
	period, err := intParam(params, "seasonal_periods", 24)
	if err != nil {
		return cfg, err
	}
	cfg.Period = period
	if cfg.Trend == "additive" {
		cfg.Trend = "add"
	}
	switch cfg.Seasonal {
	case "additive":
		cfg.Seasonal = "add"
	case "multiplicative":
		cfg.Seasonal = "mul"
	}
	if cfg.Trend != "add" && cfg.Trend != "none" {
		return cfg, fmt.Errorf("trend must be add or none, got %q", cfg.Trend)
	}
	if cfg.Seasonal != "add" && cfg.Seasonal != "mul" && cfg.Seasonal != "none" {
		return cfg, fmt.Errorf("seasonal must be add, mul or none, got %q", cfg.Seasonal)
	}
	if cfg.Seasonal == "none" || cfg.Period < 2 {
		cfg.Seasonal, cfg.Period = "none", 1
	}
	return cfg, nil
}

func (c etsConfig) minHistory() int {
	if c.Seasonal == "none" {
		return 3
	}
	return 2 * c.Period
}

// etsFilter runs the recursions over one contiguous window. phase0 is the hour
// phase of values[0].
type etsFilter struct {
	cfg                etsConfig
	alpha, beta, gamma float64
	level, slope       float64
	season             []float64
	sse                float64
}

func newETSFilter(cfg etsConfig, alpha, beta, gamma float64, values []float64, phase0 int) (*etsFilter, error) {
	f := &etsFilter{cfg: cfg, alpha: alpha, beta: beta, gamma: gamma, season: make([]float64, cfg.Period)}
	if len(values) < cfg.minHistory() {
		return nil, fmt.Errorf("%w: ets needs %d observations, have %d", models.ErrInsufficientData, cfg.minHistory(), len(values))
	}
	if cfg.Seasonal == "none" {
		f.level = values[0]
		if cfg.Trend == "add" {
			f.slope = values[1] - values[0]
		}
		return f, nil
	}

	m := cfg.Period
	first, second := mean(values[:m]), mean(values[m:2*m])
	f.level = first
	if cfg.Trend == "add" {
		f.slope = (second - first) / float64(m)
	}
	for i := 0; i < m; i++ {
		ph := (phase0 + i) % m
		if cfg.Seasonal == "mul" {
			if first == 0 {
				return nil, fmt.Errorf("multiplicative seasonality needs a non-zero level")
			}
			f.season[ph] = values[i] / first
		} else {
			f.season[ph] = values[i] - first
		}
	}
	return f, nil
}

func (f *etsFilter) run(values []float64, phase0 int) {
	m := f.cfg.Period
	for t, y := range values {
		ph := (phase0 + t) % m
		s := f.season[ph]
		base := f.level + f.slope

		var pred, level float64
		switch f.cfg.Seasonal {
		case "mul":
			pred = base * s
			level = f.alpha*(y/s) + (1-f.alpha)*base
			f.season[ph] = f.gamma*(y/level) + (1-f.gamma)*s
		case "add":
			pred = base + s
			level = f.alpha*(y-s) + (1-f.alpha)*base
			f.season[ph] = f.gamma*(y-level) + (1-f.gamma)*s
		default:
			pred = base
			level = f.alpha*y + (1-f.alpha)*base
		}
		if f.cfg.Trend == "add" {
			f.slope = f.beta*(level-f.level) + (1-f.beta)*f.slope
		}
		f.level = level
		e := y - pred
		f.sse += e * e
	}
}

func (f *etsFilter) forecast(nextPhase, horizon int) []float64 {
	m := f.cfg.Period
	out := make([]float64, horizon)
	for h := 1; h <= horizon; h++ {
		base := f.level + float64(h)*f.slope
		s := f.season[(nextPhase+h-1)%m]
		switch f.cfg.Seasonal {
		case "mul":
			out[h-1] = base * s
		case "add":
			out[h-1] = base + s
		default:
			out[h-1] = base
		}
	}
	return out
}

func (e *ETS) Fit(_ context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	cfg, err := etsConfigFrom(params)
	if err != nil {
		return nil, err
	}
	values := frame.Values()
	if len(values) < cfg.minHistory()+1 {
		return nil, fmt.Errorf("ets needs at least %d observations, have %d", cfg.minHistory()+1, len(values))
	}
	phase0 := 0
	if len(frame.Points) > 0 {
		phase0 = hourPhase(frame.Points[0].Timestamp, cfg.Period)
	}

	build := func(x []float64) (*etsFilter, error) {
		alpha, beta, gamma := unit(x[0]), unit(x[1]), unit(x[2])
		f, err := newETSFilter(cfg, alpha, beta, gamma, values, phase0)
		if err != nil {
			return nil, err
		}
		f.run(values, phase0)
		return f, nil
	}
	objective := func(x []float64) float64 {
		f, err := build(x)
		if err != nil {
			return math.Inf(1)
		}
		return f.sse
	}

	x0 := []float64{logit(0.5), logit(0.1), logit(0.1)}
	best, err := minimize(objective, x0)
	if err != nil {
		return nil, fmt.Errorf("optimize smoothing: %w", err)
	}
	f, err := build(best)
	if err != nil {
		return nil, err
	}
	if !isFinite(f.level) || !isFinite(f.slope) || !allFinite(f.season) {
		return nil, errDegenerate
	}

	st := etsState{
		Config: cfg,
		Alpha:  f.alpha,
		Beta:   f.beta,
		Gamma:  f.gamma,
		Level:  f.level,
		Slope:  f.slope,
		Season: f.season,
		Tail:   newTail(frame, cfg.minHistory()),
	}
	return encodeState(st)
}

func (e *ETS) Forecast(_ context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error) {
	var st etsState
	if err := decodeState(state, &st); err != nil {
		return models.Prediction{}, err
	}
	cfg := st.Config

	// Re-run the fitted smoothing constants over fresh observations when there
	// are enough to initialise from; otherwise continue from the fitted state.
	if last, ok := recent.Last(); ok && recent.Len() >= cfg.minHistory() {
		values := recent.Values()
		phase0 := hourPhase(recent.Points[0].Timestamp, cfg.Period)
		f, err := newETSFilter(cfg, st.Alpha, st.Beta, st.Gamma, values, phase0)
		if err != nil {
			return models.Prediction{}, err
		}
		f.run(values, phase0)
		next := hourPhase(last.Timestamp, cfg.Period) + 1
		return models.Prediction{Origin: last.Timestamp, Values: truncateNonFinite(f.forecast(next%cfg.Period, horizon))}, nil
	}

	f := &etsFilter{cfg: cfg, alpha: st.Alpha, beta: st.Beta, gamma: st.Gamma, level: st.Level, slope: st.Slope, season: append([]float64(nil), st.Season...)}
	next := (hourPhase(st.Tail.End, cfg.Period) + 1) % cfg.Period
	return models.Prediction{Origin: st.Tail.End, Values: truncateNonFinite(f.forecast(next, horizon))}, nil
}
