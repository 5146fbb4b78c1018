package service

import (
	"context"

	"ForeCrypt/internal/domain/models"
)

// Algorithm is one model kind. Fit turns a training frame into opaque state;
// Forecast combines that state with the most recent observations into point
// predictions for the hours following Prediction.Origin. Forecast may return
// fewer than horizon values when it cannot continue.
type Algorithm interface {
	Name() string
	Defaults() models.Params
	Fit(ctx context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error)
	Forecast(ctx context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error)
}
