package algorithms

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ForeCrypt/internal/domain/models"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var errDegenerate = errors.New("degenerate training series")

// ridgeScale keeps the normal equations solvable for flat or collinear
// series while staying far below the signal for real prices.
const ridgeScale = 1e-8

// leastSquares solves min ||Xb - y||² with a tiny relative ridge term.
func leastSquares(x *mat.Dense, y []float64) ([]float64, error) {
	_, k := x.Dims()
	var xtx mat.Dense
	xtx.Mul(x.T(), x)

	trace := 0.0
	for i := 0; i < k; i++ {
		trace += xtx.At(i, i)
	}
	lambda := ridgeScale * trace / float64(k)
	if lambda == 0 {
		lambda = ridgeScale
	}
	for i := 0; i < k; i++ {
		xtx.Set(i, i, xtx.At(i, i)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solve: %w", err)
		}
	}
	out := beta.RawVector().Data
	for _, b := range out {
		if !isFinite(b) {
			return nil, errDegenerate
		}
	}
	return append([]float64(nil), out...), nil
}

func difference(values []float64, d int) []float64 {
	out := append([]float64(nil), values...)
	for k := 0; k < d; k++ {
		if len(out) < 2 {
			return nil
		}
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values) / float64(len(values))
}

// unit maps R onto (0,1) so the optimizer can search smoothing constants unconstrained.
func unit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// minimize runs Nelder-Mead from x0 and returns the best point it found.
func minimize(f func([]float64) float64, x0 []float64) ([]float64, error) {
	problem := optimize.Problem{Func: func(x []float64) float64 {
		v := f(x)
		if !isFinite(v) {
			return math.MaxFloat64
		}
		return v
	}}
	settings := &optimize.Settings{MajorIterations: 400, FuncEvaluations: 4000}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if res == nil {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return nil, err
	}
	return res.X, nil
}

// hourPhase maps a timestamp to its position in a cycle of period hours.
func hourPhase(t time.Time, period int) int {
	if period <= 1 {
		return 0
	}
	h := t.Unix() / 3600
	p := int(h % int64(period))
	if p < 0 {
		p += period
	}
	return p
}

// tail is the end of the training frame, kept in the artifact so a forecast
// can run even when no fresh observations are supplied.
type tail struct {
	End    time.Time `msgpack:"end"`
	Values []float64 `msgpack:"values"`
}

func newTail(frame models.TrainingFrame, n int) tail {
	last, _ := frame.Last()
	vals := frame.Values()
	if n < len(vals) {
		vals = vals[len(vals)-n:]
	}
	return tail{End: last.Timestamp, Values: append([]float64(nil), vals...)}
}

// pick returns the recent window when it is long enough, otherwise the stored tail.
func (t tail) pick(recent models.HistoricalWindow, need int) ([]float64, time.Time) {
	if last, ok := recent.Last(); ok && recent.Len() >= need {
		return recent.Values(), last.Timestamp
	}
	return t.Values, t.End
}

func encodeState(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}

func decodeState(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode state: %v", models.ErrCorruptArtifact, err)
	}
	return nil
}

// truncateNonFinite cuts the slice at the first NaN or Inf.
func truncateNonFinite(values []float64) []float64 {
	for i, v := range values {
		if !isFinite(v) {
			return values[:i]
		}
	}
	return values
}
