package models

import (
	"time"

	"ForeCrypt/pkg/util"
)

// ForecastRecord is a single predicted value. Records are append-only.
type ForecastRecord struct {
	Series             SeriesID  `json:"series"`
	Model              string    `json:"model"`
	IssueTimestamp     time.Time `json:"issue_timestamp"`
	PredictedTimestamp time.Time `json:"predicted_timestamp"`
	Step               int       `json:"forecast_step"`
	Value              float64   `json:"value"`
}

// ForecastBatch is everything written for one pair in one tick.
type ForecastBatch struct {
	ID          string           `json:"id"`
	Descriptor  ModelDescriptor  `json:"descriptor"`
	InnerParams Params           `json:"inner_params,omitempty"`
	Records     []ForecastRecord `json:"records"`
	// InputStart and InputEnd bound the observations the forecast was conditioned on.
	InputStart time.Time `json:"input_start"`
	InputEnd   time.Time `json:"input_end"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ForecastRow is a denormalised forecast record as it is stored and streamed.
type ForecastRow struct {
	BatchID             string    `json:"batch_id"`
	Series              SeriesID  `json:"series"`
	Model               string    `json:"model"`
	ModelNameExt        string    `json:"model_name_ext"`
	ExternalModelParams string    `json:"external_model_params"`
	InnerModelParams    string    `json:"inner_model_params"`
	IssueTimestamp      time.Time `json:"zero_step_ts"`
	PredictedTimestamp  time.Time `json:"timestamp"`
	Step                int       `json:"forecast_step"`
	Value               float64   `json:"forecast_value"`
	UploadedAt          time.Time `json:"uploaded_at"`
}

// Rows flattens the batch, one row per record.
func (b ForecastBatch) Rows() []ForecastRow {
	inner := util.BracketParams(b.InnerParams)
	out := make([]ForecastRow, len(b.Records))
	for i, r := range b.Records {
		out[i] = ForecastRow{
			BatchID:             b.ID,
			Series:              r.Series,
			Model:               r.Model,
			ModelNameExt:        b.Descriptor.ExtendedName(),
			ExternalModelParams: b.Descriptor.ExternalParams(),
			InnerModelParams:    inner,
			IssueTimestamp:      r.IssueTimestamp,
			PredictedTimestamp:  r.PredictedTimestamp,
			Step:                r.Step,
			Value:               r.Value,
			UploadedAt:          b.UploadedAt,
		}
	}
	return out
}

// ForecastErrorStats aggregates forecast accuracy for one model over realised hours.
type ForecastErrorStats struct {
	Series  SeriesID `json:"series"`
	Model   string   `json:"model"`
	Samples uint64   `json:"samples"`
	MAE     float64  `json:"mae"`
	MAPE    float64  `json:"mape"`
	RMSE    float64  `json:"rmse"`
}

// Prediction is raw algorithm output: Values[i] is the estimate for Origin + (i+1) hours.
type Prediction struct {
	Origin time.Time
	Values []float64
}
