package usecase

import (
	"context"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/repository"
	"ForeCrypt/internal/services/algorithms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func frame(series models.SeriesID, n int) models.HistoricalWindow {
	pts := make([]models.PricePoint, n)
	for i := range pts {
		pts[i] = models.PricePoint{Series: series, Timestamp: at(i), Price: price(series, at(i))}
	}
	return models.NewWindow(series, at(0), at(n-1), pts)
}

func testDescriptors() []models.ModelDescriptor {
	return []models.ModelDescriptor{
		{Name: "arima", Params: models.Params{"order": []any{1, 1, 0}}, TrainingSize: 96, UpdateInterval: 24 * time.Hour, ForecastInputSize: 48, ForecastFrequency: time.Hour, HorizonHours: 6},
		{Name: "ets", TrainingSize: 96, UpdateInterval: 24 * time.Hour, ForecastInputSize: 48, ForecastFrequency: time.Hour, HorizonHours: 6},
		{Name: "theta", TrainingSize: 96, UpdateInterval: 24 * time.Hour, ForecastInputSize: 48, ForecastFrequency: time.Hour, HorizonHours: 6},
		{Name: "naive", TrainingSize: 48, UpdateInterval: 24 * time.Hour, ForecastInputSize: 24, ForecastFrequency: time.Hour, HorizonHours: 6},
	}
}

func newTestDispatcher(descs []models.ModelDescriptor) (*ModelDispatcher, *repository.MemoryArtifactStore) {
	store := repository.NewMemoryArtifactStore()
	return NewModelDispatcher(algorithms.Builtin(), descs, store, nil, nil), store
}

func TestDispatcherRoundTripEveryKind(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(testDescriptors())
	train := frame("BTC", 96)

	for _, desc := range testDescriptors() {
		t.Run(desc.Name, func(t *testing.T) {
			a, err := d.FitAny(ctx, desc.Name, train, nil)
			require.NoError(t, err)
			assert.Equal(t, models.SeriesID("BTC"), a.Series)
			assert.Equal(t, desc.Name, a.Algorithm)

			exists, err := d.ModelExists(ctx, "BTC", desc.Name)
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, d.Save(ctx, a))
			assert.NotEmpty(t, a.Checksum)

			loaded, err := d.Load(ctx, "BTC", desc.Name)
			require.NoError(t, err)
			assert.Equal(t, a.State, loaded.State)
			assert.Equal(t, a.Checksum, loaded.Checksum)
			assert.True(t, a.FitTimestamp.Equal(loaded.FitTimestamp))

			want, err := d.Forecast(ctx, a, train, 6)
			require.NoError(t, err)
			got, err := d.Forecast(ctx, loaded, train, 6)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Len(t, got, 6)
		})
	}
}

func TestDispatcherMergesParams(t *testing.T) {
	d, _ := newTestDispatcher([]models.ModelDescriptor{{Name: "weekly", Algorithm: "naive", Params: models.Params{"period": 12}}})

	a, err := d.FitAny(context.Background(), "weekly", frame("BTC", 48), models.Params{"period": 6})
	require.NoError(t, err)
	assert.Equal(t, "naive", a.Algorithm)
	assert.Equal(t, 6, a.Params["period"])
}

func TestDispatcherErrors(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDispatcher(testDescriptors())

	_, err := d.FitAny(ctx, "prophet", frame("BTC", 48), nil)
	assert.ErrorIs(t, err, models.ErrUnknownModel)

	_, err = d.FitAny(ctx, "naive", models.HistoricalWindow{Series: "BTC"}, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = d.FitAny(ctx, "naive", frame("BTC", 10), nil)
	var fitErr *models.FitError
	require.ErrorAs(t, err, &fitErr)
	assert.Equal(t, "fit", models.ErrorKind(err))

	_, err = d.Load(ctx, "BTC", "naive")
	assert.ErrorIs(t, err, models.ErrArtifactNotFound)

	require.NoError(t, store.Put(ctx, ArtifactKey("BTC", "naive"), []byte("not msgpack at all")))
	_, err = d.Load(ctx, "BTC", "naive")
	assert.ErrorIs(t, err, models.ErrCorruptArtifact)
}

func TestDispatcherDetectsTampering(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDispatcher(testDescriptors())

	a, err := d.FitAny(ctx, "naive", frame("BTC", 48), nil)
	require.NoError(t, err)
	require.NoError(t, d.Save(ctx, a))

	blob, err := store.Get(ctx, ArtifactKey("BTC", "naive"))
	require.NoError(t, err)
	var env envelope
	require.NoError(t, msgpack.Unmarshal(blob, &env))
	env.Payload[len(env.Payload)-1] ^= 0xff
	blob, err = msgpack.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ArtifactKey("BTC", "naive"), blob))

	_, err = d.Load(ctx, "BTC", "naive")
	assert.ErrorIs(t, err, models.ErrCorruptArtifact)

	// A valid artifact stored under another pair's key is rejected too.
	require.NoError(t, d.Save(ctx, a))
	blob, err = store.Get(ctx, ArtifactKey("BTC", "naive"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ArtifactKey("ETH", "naive"), blob))
	_, err = d.Load(ctx, "ETH", "naive")
	assert.ErrorIs(t, err, models.ErrCorruptArtifact)
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "BTC__arima.msgpack", ArtifactKey("BTC", "arima"))
}
