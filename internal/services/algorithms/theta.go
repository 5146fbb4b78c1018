package algorithms

import (
	"context"
	"fmt"
	"math"

	"ForeCrypt/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Theta is the standard Theta method: simple exponential smoothing plus half
// the slope of a linear trend (for theta=2), applied to a series that is
// optionally deseasonalized by classical multiplicative decomposition.
type Theta struct{}

func NewTheta() *Theta { return &Theta{} }

func (*Theta) Name() string { return "theta" }

func (*Theta) Defaults() models.Params {
	return models.Params{"theta": 2.0, "period": 24, "deseasonalize": true}
}

type thetaState struct {
	Theta  float64 `msgpack:"theta"`
	Alpha  float64 `msgpack:"alpha"`
	B0     float64 `msgpack:"b0"`
	N      int     `msgpack:"n"`
	Level  float64 `msgpack:"level"`
	Period int     `msgpack:"period"`
	// Seasonal holds multiplicative indices by hour phase; nil when not seasonal.
	Seasonal []float64 `msgpack:"seasonal"`
	Tail     tail      `msgpack:"tail"`
}

func (s thetaState) adjust(values []float64, phase0 int) []float64 {
	if s.Seasonal == nil {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / s.Seasonal[(phase0+i)%s.Period]
	}
	return out
}

func (t *Theta) Fit(_ context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	theta, err := floatParam(params, "theta", 2)
	if err != nil {
		return nil, err
	}
	if theta < 1 {
		return nil, fmt.Errorf("theta must be >= 1, got %v", theta)
	}
	period, err := intParam(params, "period", 24)
	if err != nil {
		return nil, err
	}
	values := frame.Values()
	if len(values) < 4 {
		return nil, fmt.Errorf("theta needs at least 4 observations, have %d", len(values))
	}

	st := thetaState{Theta: theta, Period: 1}
	phase0 := 0
	if boolParam(params, "deseasonalize", true) && period > 1 && len(values) >= 2*period && isSeasonal(values, period) {
		phase0 = hourPhase(frame.Points[0].Timestamp, period)
		if idx, ok := seasonalIndices(values, period, phase0); ok {
			st.Seasonal, st.Period = idx, period
		}
	}
	x := st.adjust(values, phase0)

	ts := make([]float64, len(x))
	for i := range ts {
		ts[i] = float64(i)
	}
	_, st.B0 = stat.LinearRegression(ts, x, nil, false)

	best, err := minimize(func(p []float64) float64 {
		_, sse := ses(x, unit(p[0]))
		return sse
	}, []float64{logit(0.5)})
	if err != nil {
		return nil, fmt.Errorf("optimize alpha: %w", err)
	}
	st.Alpha = unit(best[0])
	st.Level, _ = ses(x, st.Alpha)
	st.N = len(x)
	if !isFinite(st.Level) || !isFinite(st.B0) {
		return nil, errDegenerate
	}
	st.Tail = newTail(frame, 2*period)
	return encodeState(st)
}

func (t *Theta) Forecast(_ context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error) {
	var st thetaState
	if err := decodeState(state, &st); err != nil {
		return models.Prediction{}, err
	}

	level, n, origin := st.Level, st.N, st.Tail.End
	if last, ok := recent.Last(); ok && recent.Len() >= 2 {
		phase0 := hourPhase(recent.Points[0].Timestamp, st.Period)
		level, _ = ses(st.adjust(recent.Values(), phase0), st.Alpha)
		n, origin = st.N+recent.Len(), last.Timestamp
	}

	a := st.Alpha
	drift := (1 - 1/st.Theta) * st.B0
	base := 1/a - math.Pow(1-a, float64(n))/a
	next := hourPhase(origin, st.Period) + 1

	out := make([]float64, horizon)
	for h := 1; h <= horizon; h++ {
		v := level + drift*(float64(h-1)+base)
		if st.Seasonal != nil {
			v *= st.Seasonal[(next+h-1)%st.Period]
		}
		out[h-1] = v
	}
	return models.Prediction{Origin: origin, Values: truncateNonFinite(out)}, nil
}

// ses returns the final level and the one-step squared error of simple exponential smoothing.
func ses(x []float64, alpha float64) (float64, float64) {
	level := x[0]
	sse := 0.0
	for _, v := range x[1:] {
		e := v - level
		sse += e * e
		level += alpha * e
	}
	return level, sse
}

// isSeasonal applies the usual 90% test on the autocorrelation at lag m.
func isSeasonal(x []float64, m int) bool {
	mu := stat.Mean(x, nil)
	den := 0.0
	for _, v := range x {
		den += (v - mu) * (v - mu)
	}
	if den == 0 {
		return false
	}
	acf := func(lag int) float64 {
		s := 0.0
		for i := lag; i < len(x); i++ {
			s += (x[i] - mu) * (x[i-lag] - mu)
		}
		return s / den
	}
	sum := 0.0
	for k := 1; k < m; k++ {
		r := acf(k)
		sum += r * r
	}
	limit := 1.645 * math.Sqrt((1+2*sum)/float64(len(x)))
	return math.Abs(acf(m)) > limit
}

// seasonalIndices estimates multiplicative indices from a centred moving average.
func seasonalIndices(x []float64, m, phase0 int) ([]float64, bool) {
	for _, v := range x {
		if v <= 0 {
			return nil, false
		}
	}
	half := m / 2
	sums := make([]float64, m)
	counts := make([]int, m)
	for t := half; t < len(x)-half; t++ {
		var trend float64
		if m%2 == 0 {
			s := 0.5*x[t-half] + 0.5*x[t+half]
			for j := t - half + 1; j < t+half; j++ {
				s += x[j]
			}
			trend = s / float64(m)
		} else {
			trend = mean(x[t-half : t+half+1])
		}
		ph := (phase0 + t) % m
		sums[ph] += x[t] / trend
		counts[ph]++
	}
	idx := make([]float64, m)
	total := 0.0
	for i := range idx {
		if counts[i] == 0 {
			return nil, false
		}
		idx[i] = sums[i] / float64(counts[i])
		total += idx[i]
	}
	norm := total / float64(m)
	for i := range idx {
		idx[i] /= norm
	}
	return idx, true
}
