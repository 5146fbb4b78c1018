package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/repository"
	"ForeCrypt/internal/usecase"
	"ForeCrypt/pkg/cache"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type fakeTicks struct {
	mu   sync.Mutex
	runs []time.Time
	last *models.TickReport
}

func (f *fakeTicks) RunTick(_ context.Context, now time.Time) models.TickReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, now)
	r := models.TickReport{Now: now}
	f.last = &r
	return r
}

func (f *fakeTicks) Now() time.Time { return at(30) }

func (f *fakeTicks) LastReport() (models.TickReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return models.TickReport{}, false
	}
	return *f.last, true
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type fixture struct {
	e      *echo.Echo
	ticks  *fakeTicks
	charts *cache.MemoryCache
}

func newFixture(t *testing.T, opts ...ForecastHandlerOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	states := repository.NewMemoryStateStore()

	var pts []models.PricePoint
	for h := 0; h <= 24; h++ {
		pts = append(pts, models.PricePoint{Series: "BTC", Timestamp: at(h), Price: 100 + float64(h)})
	}
	_, err := store.UpsertHistorical(ctx, pts)
	require.NoError(t, err)

	desc := models.ModelDescriptor{Name: "naive", TrainingSize: 48, UpdateInterval: 24 * time.Hour, ForecastInputSize: 24, ForecastFrequency: time.Hour, HorizonHours: 2}
	require.NoError(t, store.SaveForecasts(ctx, models.ForecastBatch{
		ID:         "b1",
		Descriptor: desc,
		Records: []models.ForecastRecord{
			{Series: "BTC", Model: "naive", IssueTimestamp: at(24), PredictedTimestamp: at(25), Step: 1, Value: 125},
			{Series: "BTC", Model: "naive", IssueTimestamp: at(24), PredictedTimestamp: at(26), Step: 2, Value: 126},
		},
	}))
	_, err = states.Init(ctx, models.PairKey{Series: "BTC", Model: "naive"})
	require.NoError(t, err)

	uc := usecase.NewForecastsUseCase(store, store, states, nil, []models.SeriesID{"BTC"}, []models.ModelDescriptor{desc}, fixedClock(at(30)))
	f := &fixture{e: echo.New(), ticks: &fakeTicks{}, charts: cache.NewMemoryCache()}
	t.Cleanup(func() { _ = f.charts.Close() })

	opts = append([]ForecastHandlerOption{WithChartCache(f.charts, time.Minute)}, opts...)
	NewForecastEchoHandler(nil, uc, f.ticks, opts...).RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get(echo.HeaderContentType) != "image/png" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestForecastEndpoint(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/forecasts?series=btc&model=naive&history=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, env.Status)

	var res usecase.GetForecastResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.SeriesID("BTC"), res.Series)
	assert.Equal(t, "naive_TD48_MU24_FD24_FF1_FH2", res.ModelExt)
	assert.Equal(t, 2, res.Count)
	require.NotNil(t, res.Issue)
	assert.True(t, at(24).Equal(*res.Issue))
	require.Len(t, res.History, 3)
	assert.True(t, at(22).Equal(res.History[0].Timestamp))
	assert.NotNil(t, res.LastUpdate)
}

func TestForecastEndpointErrors(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/forecasts?series=BTC&model=prophet")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = f.do(t, http.MethodGet, "/api/forecasts?series=DOGE&model=naive")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = f.do(t, http.MethodGet, "/api/forecasts?model=naive")
	assert.Equal(t, http.StatusBadRequest, env.Status)

	_, env = f.do(t, http.MethodGet, "/api/metrics/errors?series=BTC")
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
}

func TestChartEndpointRendersAndCaches(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/forecasts/chart.png?series=BTC&model=naive&history=12")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	ok, err := f.charts.Exists(context.Background(), "chart:BTC:naive:"+strconv.FormatInt(at(24).Unix(), 10)+":12:12")
	require.NoError(t, err)
	assert.True(t, ok)

	again, _ := f.do(t, http.MethodGet, "/api/forecasts/chart.png?series=BTC&model=naive&history=12")
	assert.Equal(t, rec.Body.Bytes(), again.Body.Bytes())
}

func TestStatesAndSeries(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/states?series=BTC")
	require.Equal(t, http.StatusOK, env.Status)
	var list struct {
		Rows  []models.ModelState `json:"rows"`
		Total int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)

	_, env = f.do(t, http.MethodGet, "/api/series")
	assert.JSONEq(t, `["BTC"]`, string(env.Data))

	_, env = f.do(t, http.MethodGet, "/api/series/btc/overview")
	require.Equal(t, http.StatusOK, env.Status)
	var ov usecase.SeriesOverview
	require.NoError(t, json.Unmarshal(env.Data, &ov))
	assert.Len(t, ov.Forecasts["naive"], 2)
}

func TestRunTickAndLastReport(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/ticks/last")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = f.do(t, http.MethodPost, "/api/ticks/run?wait=true&now=2024-03-01T05:20:00Z")
	require.Equal(t, http.StatusOK, env.Status)
	require.Len(t, f.ticks.runs, 1)
	assert.True(t, at(5).Add(20*time.Minute).Equal(f.ticks.runs[0]))

	_, env = f.do(t, http.MethodGet, "/api/ticks/last")
	require.Equal(t, http.StatusOK, env.Status)
	var r models.TickReport
	require.NoError(t, json.Unmarshal(env.Data, &r))
	assert.True(t, f.ticks.runs[0].Equal(r.Now))

	_, env = f.do(t, http.MethodPost, "/api/ticks/run?now=yesterday")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

type recordingQueue struct {
	types    []string
	payloads []any
	err      error
}

func (q *recordingQueue) Publish(_ context.Context, msgType string, payload any) error {
	if q.err != nil {
		return q.err
	}
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

func TestRunTickIsQueuedWhenQueueConfigured(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, WithTickQueue(q))

	rec, env := f.do(t, http.MethodPost, "/api/ticks/run?now=2024-03-01T05:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusAccepted, env.Status)
	require.Equal(t, []string{models.TickRequestType}, q.types)
	tr, ok := q.payloads[0].(models.TickRequest)
	require.True(t, ok)
	assert.True(t, at(5).Equal(tr.Hour))
	assert.Empty(t, f.ticks.runs)

	q.err = errors.New("redis down")
	_, env = f.do(t, http.MethodPost, "/api/ticks/run")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestTickHistoryNeedsReportCache(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodGet, "/api/ticks/last?hour=2024-03-01T05:00:00Z")
	assert.Equal(t, http.StatusNotFound, env.Status)
}
