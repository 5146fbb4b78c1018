package metrics

import (
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderUsesOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTick(3*time.Second, 8)
	r.RecordPairStep("arima", models.ActionRetrain, models.ResultOK)
	r.RecordPairStep("arima", models.ActionRetrain, models.ResultOK)
	r.RecordFetched("cryptocompare", "BTC", 24)
	r.RecordError("")
	r.RecordLastPrice("BTC", 64000.5)

	assert.Equal(t, 8.0, testutil.ToFloat64(r.tickPairs))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.pairSteps.WithLabelValues("arima", "retrain", "ok")))
	assert.Equal(t, 24.0, testutil.ToFloat64(r.fetched.WithLabelValues("cryptocompare", "BTC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("unknown")))
	assert.Equal(t, 64000.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("BTC")))

	// A second recorder on a fresh registry does not collide.
	require.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
