package usecase

import (
	"context"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	forecasts []models.ForecastRow
	points    []models.PricePoint
	since     time.Time
	err       error
}

func (m *fakeMirror) InsertForecasts(_ context.Context, rows []models.ForecastRow) error {
	if m.err != nil {
		return m.err
	}
	m.forecasts = append(m.forecasts, rows...)
	return nil
}

func (m *fakeMirror) InsertHistorical(_ context.Context, points []models.PricePoint) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, points...)
	return nil
}

func (m *fakeMirror) ErrorStats(_ context.Context, series models.SeriesID, since time.Time) ([]models.ForecastErrorStats, error) {
	m.since = since
	return []models.ForecastErrorStats{{Series: series, Model: "naive", Samples: 10, MAE: 1.5}}, nil
}

func issued(series models.SeriesID, model string, issue time.Time, values ...float64) models.ForecastBatch {
	b := models.ForecastBatch{ID: "b-" + issue.Format("15"), Descriptor: models.ModelDescriptor{Name: model}}
	for i, v := range values {
		b.Records = append(b.Records, models.ForecastRecord{
			Series: series, Model: model, IssueTimestamp: issue,
			PredictedTimestamp: issue.Add(time.Duration(i+1) * time.Hour), Step: i + 1, Value: v,
		})
	}
	return b
}

func newForecastsFixture(t *testing.T, mirror *fakeMirror) (*ForecastsUseCase, *repository.MemoryStore, *repository.MemoryStateStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	states := repository.NewMemoryStateStore()
	seed(t, store, "BTC", 20, 21, 22, 23, 24)
	require.NoError(t, store.SaveForecasts(context.Background(), issued("BTC", "naive", at(23), 1, 2)))
	require.NoError(t, store.SaveForecasts(context.Background(), issued("BTC", "naive", at(24), 3, 4, 5)))

	var m domrepo.ForecastMirror
	if mirror != nil {
		m = mirror
	}
	uc := NewForecastsUseCase(store, store, states, m, []models.SeriesID{"BTC", "ETH"}, []models.ModelDescriptor{
		{Name: "naive", TrainingSize: 48, UpdateInterval: 24 * time.Hour, ForecastInputSize: 24, ForecastFrequency: time.Hour, HorizonHours: 3},
		{Name: "theta", TrainingSize: 96, UpdateInterval: 24 * time.Hour, ForecastInputSize: 48, ForecastFrequency: time.Hour, HorizonHours: 3},
	}, fixedClock{t: at(25)})
	return uc, store, states
}

func TestGetForecastReturnsLatestBatch(t *testing.T) {
	uc, _, states := newForecastsFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, states.MarkForecasted(ctx, models.PairKey{Series: "BTC", Model: "naive"}, at(24)))

	res, err := uc.GetForecast(ctx, GetForecastParams{Series: "BTC", Model: "naive", History: 3})
	require.NoError(t, err)
	assert.Equal(t, "naive_TD48_MU24_FD24_FF1_FH3", res.ModelExt)
	require.NotNil(t, res.Issue)
	assert.Equal(t, at(24), *res.Issue)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 3.0, res.Records[0].Value)

	require.Len(t, res.History, 3)
	assert.Equal(t, at(22), res.History[0].Timestamp)
	assert.Equal(t, at(24), res.History[2].Timestamp)

	require.NotNil(t, res.LastUpdate)
	assert.Equal(t, at(24), *res.LastUpdate.LastForecast)
}

func TestGetForecastWithoutBatchAnchorsHistoryOnNow(t *testing.T) {
	uc, _, _ := newForecastsFixture(t, nil)

	res, err := uc.GetForecast(context.Background(), GetForecastParams{Series: "BTC", Model: "theta", History: 2})
	require.NoError(t, err)
	assert.Nil(t, res.Issue)
	assert.Zero(t, res.Count)
	assert.Nil(t, res.LastUpdate)
	require.Len(t, res.History, 1, "hour 25 is not stored yet")
	assert.Equal(t, at(24), res.History[0].Timestamp)
}

func TestGetForecastRejectsUnknownPairs(t *testing.T) {
	uc, _, _ := newForecastsFixture(t, nil)
	ctx := context.Background()

	_, err := uc.GetForecast(ctx, GetForecastParams{Series: "DOGE", Model: "naive"})
	assert.ErrorIs(t, err, models.ErrUnknownSeries)

	_, err = uc.GetForecast(ctx, GetForecastParams{Series: "BTC", Model: "prophet"})
	assert.ErrorIs(t, err, models.ErrUnknownModel)

	_, err = uc.GetForecast(ctx, GetForecastParams{Model: "naive"})
	assert.Error(t, err)
}

func TestStatesFiltersBySeries(t *testing.T) {
	uc, _, states := newForecastsFixture(t, nil)
	ctx := context.Background()
	for _, k := range []models.PairKey{{Series: "BTC", Model: "naive"}, {Series: "ETH", Model: "naive"}, {Series: "BTC", Model: "theta"}} {
		_, err := states.Init(ctx, k)
		require.NoError(t, err)
	}

	all, err := uc.States(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	btc, err := uc.States(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "naive", btc[0].Model)
	assert.Equal(t, "theta", btc[1].Model)
}

func TestOverviewCollectsEveryModel(t *testing.T) {
	uc, _, _ := newForecastsFixture(t, nil)

	ov, err := uc.Overview(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Len(t, ov.Forecasts["naive"], 3)
	assert.Empty(t, ov.Forecasts["theta"])
	assert.Nil(t, ov.Errors)

	_, err = uc.Overview(context.Background(), "XRP")
	assert.ErrorIs(t, err, models.ErrUnknownSeries)
}

func TestErrorStats(t *testing.T) {
	uc, _, _ := newForecastsFixture(t, nil)
	_, err := uc.ErrorStats(context.Background(), "BTC", 7)
	assert.ErrorIs(t, err, ErrMirrorDisabled)

	mirror := &fakeMirror{}
	uc, _, _ = newForecastsFixture(t, mirror)
	stats, err := uc.ErrorStats(context.Background(), "BTC", 0)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, at(25).Add(-30*24*time.Hour), mirror.since)

	_, err = uc.ErrorStats(context.Background(), "XRP", 1)
	assert.ErrorIs(t, err, models.ErrUnknownSeries)
}

func TestSeriesIsSorted(t *testing.T) {
	uc, _, _ := newForecastsFixture(t, nil)
	assert.Equal(t, []models.SeriesID{"BTC", "ETH"}, uc.Series())
}

func TestMaintenanceAppliesRetention(t *testing.T) {
	_, store, _ := newForecastsFixture(t, nil)
	m := NewMaintenanceUseCase(store, 90*time.Minute, fixedClock{t: at(25)}, nil)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, at(23).Add(30*time.Minute), res.Cutoff)
	assert.True(t, res.Refreshed)

	left, err := store.LatestForecast(context.Background(), "BTC", "naive")
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestMaintenanceWithoutRetentionOnlyRefreshes(t *testing.T) {
	_, store, _ := newForecastsFixture(t, nil)
	res, err := NewMaintenanceUseCase(store, 0, fixedClock{t: at(25)}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.True(t, res.Cutoff.IsZero())
	assert.True(t, res.Refreshed)
}
