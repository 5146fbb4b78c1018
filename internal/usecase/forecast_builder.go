package usecase

import (
	"context"
	"math"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/util"
)

// Predictor produces a raw prediction from a fitted artifact.
type Predictor interface {
	Predict(ctx context.Context, a *models.Artifact, history models.HistoricalWindow, horizon int) (models.Prediction, error)
}

// ForecastBuilder turns algorithm output into timestamped forecast records.
type ForecastBuilder struct {
	predictor Predictor
}

func NewForecastBuilder(p Predictor) *ForecastBuilder {
	return &ForecastBuilder{predictor: p}
}

// CreateForecastDataframe returns up to horizon records for issue+1h ... issue+horizon h.
// When the model's last observation is older than issue the extra leading
// steps are requested and discarded. A short or non-finite result yields the
// valid prefix.
func (b *ForecastBuilder) CreateForecastDataframe(ctx context.Context, a *models.Artifact, input models.HistoricalWindow, horizon int, issue time.Time) ([]models.ForecastRecord, error) {
	if horizon <= 0 {
		return nil, nil
	}
	issue = util.FloorHour(issue)

	lag := 0
	if last, ok := input.Last(); ok && last.Timestamp.Before(issue) {
		lag = int(issue.Sub(last.Timestamp) / time.Hour)
	}
	pred, err := b.predictor.Predict(ctx, a, input, horizon+lag)
	if err != nil {
		return nil, err
	}
	if !pred.Origin.IsZero() {
		// The algorithm may have anchored on its stored tail rather than input.
		if originLag := int(issue.Sub(util.FloorHour(pred.Origin)) / time.Hour); originLag != lag {
			if originLag > lag {
				if pred, err = b.predictor.Predict(ctx, a, input, horizon+originLag); err != nil {
					return nil, err
				}
			}
			lag = originLag
		}
	}
	if lag < 0 {
		lag = 0
	}

	values := pred.Values
	if lag >= len(values) {
		return nil, nil
	}
	values = values[lag:]
	if len(values) > horizon {
		values = values[:horizon]
	}

	out := make([]models.ForecastRecord, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			break
		}
		out = append(out, models.ForecastRecord{
			Series:             a.Series,
			Model:              a.Model,
			IssueTimestamp:     issue,
			PredictedTimestamp: issue.Add(util.Hours(i + 1)),
			Step:               i + 1,
			Value:              v,
		})
	}
	return out, nil
}
