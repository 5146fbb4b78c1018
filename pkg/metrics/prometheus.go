package metrics

import (
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tickDuration prometheus.Histogram
	tickPairs    prometheus.Gauge
	pairSteps    *prometheus.CounterVec
	fetched      *prometheus.CounterVec
	fitDuration  *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New registers the recorder's collectors with reg; a nil reg means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		tickDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forecrypt_tick_duration_seconds",
				Help:    "Wall time of one forecast tick",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
			},
		),
		tickPairs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "forecrypt_tick_pairs",
				Help: "Number of (series, model) pairs evaluated by the last tick",
			},
		),
		pairSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecrypt_pair_steps_total",
				Help: "Retrain and forecast steps by result",
			},
			[]string{"model", "action", "result"},
		),
		fetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecrypt_points_fetched_total",
				Help: "Historical points stored from the upstream source",
			},
			[]string{"source", "series"},
		),
		fitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecrypt_fit_duration_seconds",
				Help:    "Duration of model fits",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"algorithm"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecrypt_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecrypt_last_price",
				Help: "Last stored price for a series",
			},
			[]string{"series"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecrypt_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(d time.Duration, pairs int) {
	r.tickDuration.Observe(d.Seconds())
	r.tickPairs.Set(float64(pairs))
}

func (r *Recorder) RecordPairStep(model string, action models.PairAction, result models.PairResult) {
	r.pairSteps.WithLabelValues(model, string(action), string(result)).Inc()
}

func (r *Recorder) RecordFetched(source string, series models.SeriesID, points int) {
	r.fetched.WithLabelValues(source, string(series)).Add(float64(points))
}

func (r *Recorder) RecordFit(algorithm string, seconds float64) {
	r.fitDuration.WithLabelValues(algorithm).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a series.
func (r *Recorder) RecordLastPrice(series models.SeriesID, price float64) {
	r.lastPrice.WithLabelValues(string(series)).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

var _ domrepo.Metrics = (*Recorder)(nil)
