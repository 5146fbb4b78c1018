package algorithms

import (
	"context"
	"fmt"

	"ForeCrypt/internal/domain/models"

	"gonum.org/v1/gonum/mat"
)

// Arima fits ARIMA(p,d,q) with the Hannan-Rissanen two stage regression:
// a long autoregression estimates the innovations, then the ARMA coefficients
// are regressed on lagged values and lagged innovations.
type Arima struct{}

func NewArima() *Arima { return &Arima{} }

func (*Arima) Name() string { return "arima" }

func (*Arima) Defaults() models.Params {
	return models.Params{"order": []any{2, 1, 1}}
}

type arimaState struct {
	P         int       `msgpack:"p"`
	D         int       `msgpack:"d"`
	Q         int       `msgpack:"q"`
	Intercept float64   `msgpack:"c"`
	AR        []float64 `msgpack:"ar"`
	MA        []float64 `msgpack:"ma"`
	Tail      tail      `msgpack:"tail"`
}

func (s arimaState) minHistory() int {
	return s.D + s.P + 2*s.Q + 1
}

func arimaOrder(params models.Params) (p, d, q int, err error) {
	order, err := intsParam(params, "order", []int{2, 1, 1})
	if err != nil {
		return 0, 0, 0, err
	}
	if len(order) != 3 {
		return 0, 0, 0, fmt.Errorf("order must have 3 elements, got %d", len(order))
	}
	p, d, q = order[0], order[1], order[2]
	if p < 0 || d < 0 || q < 0 || d > 3 {
		return 0, 0, 0, fmt.Errorf("invalid order (%d,%d,%d)", p, d, q)
	}
	return p, d, q, nil
}

func (a *Arima) Fit(ctx context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	p, d, q, err := arimaOrder(params)
	if err != nil {
		return nil, err
	}
	y := difference(frame.Values(), d)

	st := arimaState{P: p, D: d, Q: q}
	if q == 0 {
		st.Intercept, st.AR, err = fitAR(y, p)
		if err != nil {
			return nil, err
		}
	} else {
		long := p + q + 8
		if third := len(y) / 3; long > third {
			long = third
		}
		if long <= q {
			return nil, fmt.Errorf("need more observations for order (%d,%d,%d): have %d", p, d, q, frame.Len())
		}
		c, phi, err := fitAR(y, long)
		if err != nil {
			return nil, fmt.Errorf("long autoregression: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eps := arResiduals(y, c, phi)
		st.Intercept, st.AR, st.MA, err = fitARMA(y, eps, p, q, long)
		if err != nil {
			return nil, err
		}
	}

	st.Tail = newTail(frame, st.minHistory()+24)
	return encodeState(st)
}

func (a *Arima) Forecast(_ context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error) {
	var st arimaState
	if err := decodeState(state, &st); err != nil {
		return models.Prediction{}, err
	}
	values, origin := st.Tail.pick(recent, st.minHistory())
	if len(values) < st.minHistory() {
		return models.Prediction{}, fmt.Errorf("%w: arima needs %d observations, have %d",
			models.ErrInsufficientData, st.minHistory(), len(values))
	}

	y := difference(values, st.D)
	eps := armaResiduals(y, st.Intercept, st.AR, st.MA)

	hist := append([]float64(nil), y...)
	errs := append([]float64(nil), eps...)
	diffs := make([]float64, 0, horizon)
	for h := 0; h < horizon; h++ {
		n := len(hist)
		v := st.Intercept
		for i, phi := range st.AR {
			v += phi * hist[n-1-i]
		}
		for j, theta := range st.MA {
			v += theta * errs[n-1-j]
		}
		hist = append(hist, v)
		errs = append(errs, 0)
		diffs = append(diffs, v)
	}

	return models.Prediction{Origin: origin, Values: truncateNonFinite(integrate(values, st.D, diffs))}, nil
}

// fitAR regresses y_t on an intercept and p lags.
func fitAR(y []float64, p int) (float64, []float64, error) {
	rows := len(y) - p
	if rows < p+2 {
		return 0, nil, fmt.Errorf("need at least %d observations for AR(%d), have %d", 2*p+2, p, len(y))
	}
	x := mat.NewDense(rows, p+1, nil)
	target := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := r + p
		x.Set(r, 0, 1)
		for i := 1; i <= p; i++ {
			x.Set(r, i, y[t-i])
		}
		target[r] = y[t]
	}
	beta, err := leastSquares(x, target)
	if err != nil {
		return 0, nil, err
	}
	return beta[0], beta[1:], nil
}

func fitARMA(y, eps []float64, p, q, start int) (float64, []float64, []float64, error) {
	first := start + q
	if p > first {
		first = p
	}
	rows := len(y) - first
	k := 1 + p + q
	if rows < k+1 {
		return 0, nil, nil, fmt.Errorf("need more observations for ARMA(%d,%d), have %d", p, q, len(y))
	}
	x := mat.NewDense(rows, k, nil)
	target := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := r + first
		x.Set(r, 0, 1)
		for i := 1; i <= p; i++ {
			x.Set(r, i, y[t-i])
		}
		for j := 1; j <= q; j++ {
			x.Set(r, p+j, eps[t-j])
		}
		target[r] = y[t]
	}
	beta, err := leastSquares(x, target)
	if err != nil {
		return 0, nil, nil, err
	}
	return beta[0], beta[1 : 1+p], beta[1+p:], nil
}

// arResiduals are zero until enough lags exist.
func arResiduals(y []float64, c float64, phi []float64) []float64 {
	eps := make([]float64, len(y))
	for t := len(phi); t < len(y); t++ {
		v := c
		for i, a := range phi {
			v += a * y[t-1-i]
		}
		eps[t] = y[t] - v
	}
	return eps
}

func armaResiduals(y []float64, c float64, ar, ma []float64) []float64 {
	eps := make([]float64, len(y))
	start := len(ar)
	if len(ma) > start {
		start = len(ma)
	}
	for t := start; t < len(y); t++ {
		v := c
		for i, a := range ar {
			v += a * y[t-1-i]
		}
		for j, b := range ma {
			v += b * eps[t-1-j]
		}
		eps[t] = y[t] - v
	}
	return eps
}

// integrate undoes d rounds of differencing, anchored on the observed levels.
func integrate(levels []float64, d int, diffs []float64) []float64 {
	if d == 0 {
		return diffs
	}
	last := make([]float64, d)
	cur := levels
	for k := 0; k < d; k++ {
		last[k] = cur[len(cur)-1]
		cur = difference(cur, 1)
	}
	out := make([]float64, len(diffs))
	for i, v := range diffs {
		for k := d - 1; k >= 0; k-- {
			last[k] += v
			v = last[k]
		}
		out[i] = v
	}
	return out
}
