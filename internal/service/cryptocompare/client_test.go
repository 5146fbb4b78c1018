package cryptocompare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

// histohour mimics the endpoint: limit+1 hourly rows ending at toTs.
func histohour(t *testing.T, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		q := r.URL.Query()
		if q.Get("fsym") == "FAIL" {
			_ = json.NewEncoder(w).Encode(map[string]any{"Response": "Error", "Message": "fsym is not a valid coin"})
			return
		}
		assert.Equal(t, "Apikey secret", r.Header.Get("Authorization"))
		assert.Equal(t, "EUR", q.Get("tsym"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		toTs, _ := strconv.ParseInt(q.Get("toTs"), 10, 64)

		var resp histoResponse
		resp.Response = "Success"
		for ts := toTs - int64(limit)*3600; ts <= toTs; ts += 3600 {
			resp.Data.Data = append(resp.Data.Data, ohlcv{Time: ts, Close: float64(ts-t0.Unix())/3600 + 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *Client {
	return New("secret", WithBaseURL(url), WithQuote("EUR"), WithRetries(0),
		WithRateLimit(ratelimit.New(), 100, 100))
}

func TestFetchRangePagesBackwards(t *testing.T) {
	var calls int32
	srv := histohour(t, &calls)
	defer srv.Close()

	pts, err := newTestClient(srv.URL).FetchRange(context.Background(), "BTC", at(0), at(2499))
	require.NoError(t, err)
	require.Len(t, pts, 2500)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, at(0), pts[0].Timestamp)
	assert.Equal(t, at(2499), pts[2499].Timestamp)
	assert.Equal(t, 1.0, pts[0].Price)
	assert.Equal(t, models.SeriesID("BTC"), pts[10].Series)
}

func TestFetchRangeRoundsBounds(t *testing.T) {
	var calls int32
	srv := histohour(t, &calls)
	defer srv.Close()

	pts, err := newTestClient(srv.URL).FetchRange(context.Background(), "BTC", at(1).Add(-time.Minute), at(3).Add(59*time.Minute))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, at(1), pts[0].Timestamp)

	pts, err = newTestClient(srv.URL).FetchRange(context.Background(), "BTC", at(1).Add(time.Minute), at(1).Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestFetchHoursReturnsOnlyRequested(t *testing.T) {
	var calls int32
	srv := histohour(t, &calls)
	defer srv.Close()

	pts, err := newTestClient(srv.URL).FetchHours(context.Background(), "ETH", []time.Time{at(5), at(0), at(1), at(2), at(1)})
	require.NoError(t, err)
	require.Len(t, pts, 4)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one call per contiguous run")
	assert.Equal(t, at(5), pts[3].Timestamp)
	assert.Equal(t, 6.0, pts[3].Price)
}

func TestFetchErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := histohour(t, &calls)
	defer srv.Close()

	c := New("secret", WithBaseURL(srv.URL), WithRetries(3))
	_, err := c.FetchRange(context.Background(), "FAIL", at(0), at(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fsym is not a valid coin")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	var calls int32
	srv := histohour(t, &calls)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New("secret", WithBaseURL(srv.URL), WithRateLimit(ratelimit.New(), 0, 1))
	_, err := c.FetchRange(ctx, "BTC", at(0), at(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchRetriesOnlyTransientStatuses(t *testing.T) {
	var calls int32
	var status int32 = http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "forecrypt-acquisition/1", r.Header.Get("User-Agent"))
		http.Error(w, "nope", int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	c := New("secret", WithBaseURL(srv.URL), WithRetries(1))
	_, err := c.FetchRange(context.Background(), "BTC", at(0), at(3))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	_, err = c.FetchRange(context.Background(), "BTC", at(0), at(3))
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
