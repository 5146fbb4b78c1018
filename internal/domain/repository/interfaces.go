package repository

import (
	"context"
	"time"

	"ForeCrypt/internal/domain/models"
)

// HistoricalStore persists hourly price points. Upserts ignore timestamps that already exist.
type HistoricalStore interface {
	UpsertHistorical(ctx context.Context, points []models.PricePoint) (int, error)
	HistoricalRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error)
	ExistingHours(ctx context.Context, series models.SeriesID, from, to time.Time) ([]time.Time, error)
}

// GapFinder is implemented by stores that can compute missing hours themselves.
type GapFinder interface {
	MissingHours(ctx context.Context, series models.SeriesID, from, to time.Time) ([]time.Time, error)
}

type ForecastStore interface {
	SaveForecasts(ctx context.Context, batch models.ForecastBatch) error
	LatestForecast(ctx context.Context, series models.SeriesID, model string) ([]models.ForecastRecord, error)
	DeleteForecastsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RefreshCombinedView(ctx context.Context) error
}

type TrainingLog interface {
	RecordTraining(ctx context.Context, run models.TrainingRun) error
}

// StateStore tracks per-pair retrain/forecast timestamps.
// Get reports found=false for pairs never initialized.
type StateStore interface {
	Get(ctx context.Context, key models.PairKey) (models.ModelState, bool, error)
	Init(ctx context.Context, key models.PairKey) (models.ModelState, error)
	MarkRetrained(ctx context.Context, key models.PairKey, at time.Time) error
	MarkForecasted(ctx context.Context, key models.PairKey, at time.Time) error
	List(ctx context.Context) ([]models.ModelState, error)
}

// ArtifactStore is a keyed blob store. Put must be atomic: readers see the old
// blob or the new one, never a partial write. Get returns models.ErrArtifactNotFound
// for unknown keys.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// PriceSource is the upstream quote API.
type PriceSource interface {
	Name() string
	FetchRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error)
	FetchHours(ctx context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error)
}

// ForecastPublisher streams written data to downstream consumers.
type ForecastPublisher interface {
	PublishForecasts(ctx context.Context, batch models.ForecastBatch) error
	PublishHistorical(ctx context.Context, series models.SeriesID, points []models.PricePoint) error
	Close() error
}

// TickLocker guards against overlapping ticks.
type TickLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ForecastMirror is the analytics copy of forecasts and actuals.
type ForecastMirror interface {
	InsertForecasts(ctx context.Context, rows []models.ForecastRow) error
	InsertHistorical(ctx context.Context, points []models.PricePoint) error
	ErrorStats(ctx context.Context, series models.SeriesID, since time.Time) ([]models.ForecastErrorStats, error)
}

type Metrics interface {
	RecordTick(duration time.Duration, pairs int)
	RecordPairStep(model string, action models.PairAction, result models.PairResult)
	RecordFetched(source string, series models.SeriesID, points int)
	RecordFit(algorithm string, seconds float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(series models.SeriesID, price float64)
}
