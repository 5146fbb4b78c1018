package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	pkgkafka "ForeCrypt/pkg/kafka"
)

// ForecastMirrorHandler copies streamed forecast rows into the analytics mirror.
type ForecastMirrorHandler struct {
	topic   string
	mirror  domrepo.ForecastMirror
	metrics domrepo.Metrics
}

func NewForecastMirrorHandler(topic string, mirror domrepo.ForecastMirror, metrics domrepo.Metrics) *ForecastMirrorHandler {
	return &ForecastMirrorHandler{topic: topic, mirror: mirror, metrics: metrics}
}

func (h *ForecastMirrorHandler) Topic() string { return h.topic }

func (h *ForecastMirrorHandler) Handle(ctx context.Context, b []byte) error {
	var row models.ForecastRow
	if err := json.Unmarshal(b, &row); err != nil {
		h.recordError("mirror_unmarshal")
		return fmt.Errorf("decode forecast row: %w", err)
	}
	if row.Series == "" {
		row.Series = models.SeriesID(pkgkafka.SeriesFrom(ctx))
	}
	if row.Series == "" || row.Model == "" {
		h.recordError("mirror_unmarshal")
		return fmt.Errorf("forecast row without series or model")
	}
	if h.metrics != nil && !row.UploadedAt.IsZero() {
		h.metrics.RecordLatency("mirror_lag_seconds", time.Since(row.UploadedAt).Seconds())
	}

	start := time.Now()
	err := h.mirror.InsertForecasts(ctx, []models.ForecastRow{row})
	if h.metrics != nil {
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("mirror_store")
		return err
	}
	return nil
}

func (h *ForecastMirrorHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

// HistoricalMirrorHandler copies streamed price points into the analytics mirror.
// Incoming schema: {series, t, c}; t may be seconds or milliseconds. A row
// without series takes the one the message was keyed by.
type HistoricalMirrorHandler struct {
	topic   string
	mirror  domrepo.ForecastMirror
	metrics domrepo.Metrics
}

func NewHistoricalMirrorHandler(topic string, mirror domrepo.ForecastMirror, metrics domrepo.Metrics) *HistoricalMirrorHandler {
	return &HistoricalMirrorHandler{topic: topic, mirror: mirror, metrics: metrics}
}

func (h *HistoricalMirrorHandler) Topic() string { return h.topic }

func (h *HistoricalMirrorHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Series string  `json:"series"`
		T      int64   `json:"t"`
		C      float64 `json:"c"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("mirror_unmarshal")
		}
		return fmt.Errorf("decode price point: %w", err)
	}
	if m.Series == "" {
		m.Series = pkgkafka.SeriesFrom(ctx)
	}
	if m.Series == "" {
		if h.metrics != nil {
			h.metrics.RecordError("mirror_unmarshal")
		}
		return fmt.Errorf("price point without series")
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}

	start := time.Now()
	err := h.mirror.InsertHistorical(ctx, []models.PricePoint{{
		Series:    models.SeriesID(m.Series),
		Timestamp: time.Unix(m.T, 0).UTC(),
		Price:     m.C,
	}})
	if h.metrics != nil {
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
		if err != nil {
			h.metrics.RecordError("mirror_store")
		}
	}
	return err
}

var (
	_ pkgkafka.MessageHandler = (*ForecastMirrorHandler)(nil)
	_ pkgkafka.MessageHandler = (*HistoricalMirrorHandler)(nil)
)
