package models

import (
	"fmt"
	"time"
)

// Params holds model hyperparameters by name.
type Params map[string]any

// Merge returns a copy of p overlaid with every non-nil layer in order.
func (p Params) Merge(layers ...Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// ModelDescriptor is one configured model. Sizes are in hours.
type ModelDescriptor struct {
	Name              string        `json:"name"`
	Algorithm         string        `json:"algorithm"`
	Params            Params        `json:"params,omitempty"`
	TrainingSize      int           `json:"training_dataset_size"`
	UpdateInterval    time.Duration `json:"model_update_interval"`
	ForecastInputSize int           `json:"forecast_dataset_size"`
	ForecastFrequency time.Duration `json:"forecast_frequency"`
	HorizonHours      int           `json:"forecast_hours"`
}

// AlgorithmID is the registry key, falling back to the model name.
func (d ModelDescriptor) AlgorithmID() string {
	if d.Algorithm != "" {
		return d.Algorithm
	}
	return d.Name
}

// ExtendedName encodes the scheduling parameters into the model name, e.g.
// arima_TD240_MU2880_FD48_FF120_FH120.
func (d ModelDescriptor) ExtendedName() string {
	return fmt.Sprintf("%s_TD%d_MU%d_FD%d_FF%d_FH%d",
		d.Name, d.TrainingSize, int(d.UpdateInterval.Hours()),
		d.ForecastInputSize, int(d.ForecastFrequency.Hours()), d.HorizonHours)
}

// ExternalParams renders the scheduling parameters as [TD=..]_[MU=..]...
func (d ModelDescriptor) ExternalParams() string {
	return fmt.Sprintf("[TD=%d]_[MU=%d]_[FD=%d]_[FF=%d]_[FH=%d]",
		d.TrainingSize, int(d.UpdateInterval.Hours()),
		d.ForecastInputSize, int(d.ForecastFrequency.Hours()), d.HorizonHours)
}

// PairKey addresses one (series, model) combination.
type PairKey struct {
	Series SeriesID `json:"series"`
	Model  string   `json:"model"`
}

// String is also the artifact key.
func (k PairKey) String() string {
	return fmt.Sprintf("%s__%s", k.Series, k.Model)
}

// ModelState is the per-pair bookkeeping that survives restarts.
type ModelState struct {
	Series       SeriesID   `json:"series"`
	Model        string     `json:"model"`
	LastRetrain  *time.Time `json:"last_retrain,omitempty"`
	LastForecast *time.Time `json:"last_forecast,omitempty"`
}

func (s ModelState) Key() PairKey { return PairKey{Series: s.Series, Model: s.Model} }

// Artifact is a fitted model. State is only meaningful to the algorithm that produced it.
type Artifact struct {
	Series       SeriesID  `msgpack:"series"`
	Model        string    `msgpack:"model"`
	Algorithm    string    `msgpack:"algorithm"`
	FitTimestamp time.Time `msgpack:"fit_timestamp"`
	Params       Params    `msgpack:"params"`
	State        []byte    `msgpack:"state"`
	// Checksum is the hex SHA-256 of the stored envelope payload, set on load.
	Checksum string `msgpack:"-"`
}

func (a Artifact) Key() PairKey { return PairKey{Series: a.Series, Model: a.Model} }
