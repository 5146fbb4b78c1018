package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"ForeCrypt/internal/domain/models"
	pkgkafka "ForeCrypt/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastMirrorHandler(t *testing.T) {
	mirror := &fakeMirror{}
	h := NewForecastMirrorHandler("forecrypt.forecasts", mirror, nil)
	assert.Equal(t, "forecrypt.forecasts", h.Topic())

	row := models.ForecastRow{BatchID: "b1", Series: "BTC", Model: "naive", IssueTimestamp: at(10), PredictedTimestamp: at(11), Step: 1, Value: 101.5}
	b, err := json.Marshal(row)
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Len(t, mirror.forecasts, 1)
	assert.Equal(t, 101.5, mirror.forecasts[0].Value)
	assert.True(t, mirror.forecasts[0].PredictedTimestamp.Equal(at(11)))

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"series":"BTC"}`)))

	mirror.err = errUpstream
	assert.ErrorIs(t, h.Handle(context.Background(), b), errUpstream)
}

func TestHistoricalMirrorHandlerAcceptsMilliseconds(t *testing.T) {
	mirror := &fakeMirror{}
	h := NewHistoricalMirrorHandler("forecrypt.historical", mirror, nil)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"series":"ETH","t":1709251200,"c":20.5}`)))
	require.NoError(t, h.Handle(context.Background(), []byte(`{"series":"ETH","t":1709254800000,"c":21}`)))

	require.Len(t, mirror.points, 2)
	assert.Equal(t, at(0), mirror.points[0].Timestamp)
	assert.Equal(t, at(1), mirror.points[1].Timestamp)
	assert.Equal(t, models.SeriesID("ETH"), mirror.points[1].Series)

	assert.Error(t, h.Handle(context.Background(), []byte("not json")))
}

func TestMirrorHandlersFallBackToMessageKey(t *testing.T) {
	mirror := &fakeMirror{}
	keyed := pkgkafka.WithSeries(context.Background(), "SOL")

	hist := NewHistoricalMirrorHandler("forecrypt.historical", mirror, nil)
	require.NoError(t, hist.Handle(keyed, []byte(`{"t":1709251200,"c":3.5}`)))
	require.Len(t, mirror.points, 1)
	assert.Equal(t, models.SeriesID("SOL"), mirror.points[0].Series)
	assert.Error(t, hist.Handle(context.Background(), []byte(`{"t":1709251200,"c":3.5}`)))

	fc := NewForecastMirrorHandler("forecrypt.forecasts", mirror, nil)
	require.NoError(t, fc.Handle(keyed, []byte(`{"model":"naive","forecast_step":1,"forecast_value":4}`)))
	require.Len(t, mirror.forecasts, 1)
	assert.Equal(t, models.SeriesID("SOL"), mirror.forecasts[0].Series)
}
