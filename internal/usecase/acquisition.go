package usecase

import (
	"context"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/util"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places stored for a price.
const PriceScale = 8

// DataAcquisition pulls prices from the upstream source into the historical store.
type DataAcquisition struct {
	source    drepo.PriceSource
	store     drepo.HistoricalStore
	checker   *ConsistencyChecker
	publisher drepo.ForecastPublisher
	metrics   drepo.Metrics
	l         *applogger.Logger
}

func NewDataAcquisition(source drepo.PriceSource, store drepo.HistoricalStore, checker *ConsistencyChecker, publisher drepo.ForecastPublisher, metrics drepo.Metrics, l *applogger.Logger) *DataAcquisition {
	if l == nil {
		l = applogger.Nop()
	}
	return &DataAcquisition{source: source, store: store, checker: checker, publisher: publisher, metrics: metrics, l: l}
}

// normalize floors timestamps to the hour, rounds prices and drops points of other series.
func normalize(series models.SeriesID, pts []models.PricePoint) []models.PricePoint {
	out := make([]models.PricePoint, 0, len(pts))
	for _, p := range pts {
		if p.Series != "" && p.Series != series {
			continue
		}
		out = append(out, models.PricePoint{
			Series:    series,
			Timestamp: util.FloorHour(p.Timestamp),
			Price:     decimal.NewFromFloat(p.Price).Round(PriceScale).InexactFloat64(),
		})
	}
	return out
}

func (a *DataAcquisition) acqErr(series models.SeriesID, err error) error {
	if a.metrics != nil {
		a.metrics.RecordError("acquisition")
	}
	return &models.AcquisitionError{Series: series, Source: a.source.Name(), Err: err}
}

// FetchSpecificHours requests only the listed hours. Hours the source does not
// return are simply absent from the result. When the source fails part way the
// hours it did return come back together with the error.
func (a *DataAcquisition) FetchSpecificHours(ctx context.Context, series models.SeriesID, hours []time.Time) (models.HistoricalWindow, error) {
	if len(hours) == 0 {
		return models.HistoricalWindow{Series: series}, nil
	}
	pts, srcErr := a.source.FetchHours(ctx, series, hours)
	w := models.NewWindow(series, util.FloorHour(hours[0]), util.FloorHour(hours[len(hours)-1]), normalize(series, pts))
	if len(w.Points) > 0 {
		w.Start, w.End = w.Points[0].Timestamp, w.Points[len(w.Points)-1].Timestamp
	}
	if srcErr != nil {
		return w, a.acqErr(series, srcErr)
	}
	return w, nil
}

// FetchRange requests the contiguous range [start, end].
func (a *DataAcquisition) FetchRange(ctx context.Context, series models.SeriesID, start, end time.Time) (models.HistoricalWindow, error) {
	pts, err := a.source.FetchRange(ctx, series, start, end)
	if err != nil {
		return models.HistoricalWindow{}, a.acqErr(series, err)
	}
	return models.NewWindow(series, util.CeilHour(start), util.FloorHour(end), normalize(series, pts)), nil
}

// Sync fills the hours missing from storage in [start, end] and returns the
// stored window. Existing rows are never modified.
func (a *DataAcquisition) Sync(ctx context.Context, series models.SeriesID, start, end time.Time) (models.HistoricalWindow, models.SeriesFetch, error) {
	report := models.SeriesFetch{Series: series}
	from, to := util.CeilHour(start), util.FloorHour(end)

	missing, err := a.checker.MissingHours(ctx, series, from, to)
	if err != nil {
		return models.HistoricalWindow{}, report, fmt.Errorf("sync %s: %w", series, err)
	}
	report.Missing = len(missing)

	if len(missing) > 0 {
		fetchStart := time.Now()
		fetched, fetchErr := a.FetchSpecificHours(ctx, series, missing)
		if a.metrics != nil {
			a.metrics.RecordLatency("fetch_seconds", time.Since(fetchStart).Seconds())
		}
		report.Fetched = fetched.Len()
		if err := a.persist(ctx, series, fetched.Points); err != nil {
			return models.HistoricalWindow{}, report, err
		}
		if fetchErr != nil {
			return models.HistoricalWindow{}, report, fetchErr
		}
		if fetched.Len() < len(missing) {
			a.l.Warn("source returned fewer hours than requested",
				applogger.String("series", string(series)),
				applogger.Int("missing", len(missing)),
				applogger.Int("fetched", fetched.Len()),
			)
		}
	}

	pts, err := a.store.HistoricalRange(ctx, series, from, to)
	if err != nil {
		return models.HistoricalWindow{}, report, fmt.Errorf("load %s: %w", series, err)
	}
	w := models.NewWindow(series, from, to, pts)
	report.Points = w.Len()
	if last, ok := w.Last(); ok && a.metrics != nil {
		a.metrics.RecordLastPrice(series, last.Price)
	}
	return w, report, nil
}

// persist inserts fetched points and forwards them to the publisher.
func (a *DataAcquisition) persist(ctx context.Context, series models.SeriesID, pts []models.PricePoint) error {
	if len(pts) == 0 {
		return nil
	}
	inserted, err := a.store.UpsertHistorical(ctx, pts)
	if err != nil {
		return fmt.Errorf("sync %s: %w", series, err)
	}
	if a.metrics != nil {
		a.metrics.RecordFetched(a.source.Name(), series, inserted)
	}
	if a.publisher != nil {
		if err := a.publisher.PublishHistorical(ctx, series, pts); err != nil {
			a.l.Warn("publish historical failed",
				applogger.String("series", string(series)),
				applogger.Error(err),
			)
		}
	}
	return nil
}
