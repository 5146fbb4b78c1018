package algorithms

import (
	"context"
	"fmt"

	"ForeCrypt/internal/domain/models"
)

// Naive repeats the last observed cycle. With period 1 it is the random walk forecast.
type Naive struct{}

func NewNaive() *Naive { return &Naive{} }

func (*Naive) Name() string { return "naive" }

func (*Naive) Defaults() models.Params {
	return models.Params{"period": 24}
}

type naiveState struct {
	Period int  `msgpack:"period"`
	Tail   tail `msgpack:"tail"`
}

func (n *Naive) Fit(_ context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	period, err := intParam(params, "period", 24)
	if err != nil {
		return nil, err
	}
	if period < 1 {
		return nil, fmt.Errorf("period must be >= 1, got %d", period)
	}
	if frame.Len() < period {
		return nil, fmt.Errorf("naive needs %d observations, have %d", period, frame.Len())
	}
	return encodeState(naiveState{Period: period, Tail: newTail(frame, period)})
}

func (n *Naive) Forecast(_ context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error) {
	var st naiveState
	if err := decodeState(state, &st); err != nil {
		return models.Prediction{}, err
	}
	values, origin := st.Tail.pick(recent, st.Period)
	if len(values) < st.Period {
		return models.Prediction{}, fmt.Errorf("%w: naive needs %d observations", models.ErrInsufficientData, st.Period)
	}
	cycle := values[len(values)-st.Period:]
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		out[h] = cycle[h%st.Period]
	}
	return models.Prediction{Origin: origin, Values: out}, nil
}
