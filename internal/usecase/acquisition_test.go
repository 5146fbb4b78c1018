package usecase

import (
	"context"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundingSource returns unaligned timestamps and long fractions.
type roundingSource struct{ fakeSource }

func (s *roundingSource) FetchHours(_ context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error) {
	out := make([]models.PricePoint, len(hours))
	for i, h := range hours {
		out[i] = models.PricePoint{Series: series, Timestamp: h.Add(17 * time.Minute), Price: 1.123456789123}
	}
	return out, nil
}

// halfSource returns the first half of the requested hours, then fails.
type halfSource struct{ fakeSource }

func (s *halfSource) FetchHours(_ context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for _, h := range hours[:len(hours)/2] {
		out = append(out, models.PricePoint{Series: series, Timestamp: h, Price: price(series, h)})
	}
	return out, errUpstream
}

func TestFetchSpecificHoursKeepsPartialResult(t *testing.T) {
	store := repository.NewMemoryStore()
	acq := NewDataAcquisition(&halfSource{}, store, NewConsistencyChecker(store), nil, nil, nil)

	w, err := acq.FetchSpecificHours(context.Background(), "BTC", []time.Time{at(0), at(1), at(2), at(3)})
	var acqErr *models.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	require.Equal(t, 2, w.Len())
	assert.Equal(t, at(0), w.Start)
	assert.Equal(t, at(1), w.End)
}

func TestSyncStoresPartialFetchBeforeFailing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	acq := NewDataAcquisition(&halfSource{}, store, NewConsistencyChecker(store), nil, nil, nil)

	_, report, err := acq.Sync(ctx, "BTC", at(0), at(3))
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, 4, report.Missing)
	assert.Equal(t, 2, report.Fetched)

	pts, err := store.HistoricalRange(ctx, "BTC", at(0), at(3))
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, at(1), pts[1].Timestamp)
}

func TestSyncFetchesOnlyMissingHours(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store, "BTC", 0, 1, 2, 4)
	_, err := store.UpsertHistorical(ctx, []models.PricePoint{{Series: "BTC", Timestamp: at(5), Price: 42}})
	require.NoError(t, err)

	source := newFakeSource()
	acq := NewDataAcquisition(source, store, NewConsistencyChecker(store), nil, nil, nil)

	w, report, err := acq.Sync(ctx, "BTC", at(0), at(6))
	require.NoError(t, err)
	assert.Equal(t, models.SeriesFetch{Series: "BTC", Missing: 2, Fetched: 2, Points: 7}, report)
	require.Len(t, source.requests(), 1)
	assert.Equal(t, []time.Time{at(3), at(6)}, source.requests()[0])
	require.Equal(t, 7, w.Len())

	// Stored rows are never overwritten.
	pts, err := store.HistoricalRange(ctx, "BTC", at(5), at(5))
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, 42.0, pts[0].Price)
}

func TestSyncWithNothingMissing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store, "BTC", 0, 1, 2)
	source := newFakeSource()
	acq := NewDataAcquisition(source, store, NewConsistencyChecker(store), nil, nil, nil)

	w, report, err := acq.Sync(ctx, "BTC", at(0), at(2))
	require.NoError(t, err)
	assert.Zero(t, report.Missing)
	assert.Equal(t, 3, w.Len())
	assert.Empty(t, source.requests())
}

func TestSyncNormalizesSourcePoints(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	acq := NewDataAcquisition(&roundingSource{}, store, NewConsistencyChecker(store), nil, nil, nil)

	w, _, err := acq.Sync(ctx, "BTC", at(0), at(1))
	require.NoError(t, err)
	require.Equal(t, 2, w.Len())
	assert.Equal(t, at(0), w.Points[0].Timestamp)
	assert.Equal(t, 1.12345679, w.Points[0].Price)
}

func TestSyncWrapsSourceFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	source := newFakeSource()
	source.fail["BTC"] = errUpstream
	acq := NewDataAcquisition(source, store, NewConsistencyChecker(store), nil, nil, nil)

	_, _, err := acq.Sync(context.Background(), "BTC", at(0), at(3))
	var acqErr *models.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, "fake", acqErr.Source)
	assert.ErrorIs(t, err, errUpstream)
}
