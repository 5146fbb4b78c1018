package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/cache"
)

const reportPrefix = "tick:report"

// TickReportCache keeps finished tick reports in a cache so every instance
// behind the API can serve the latest one.
type TickReportCache struct {
	c   cache.Service
	ttl time.Duration
}

func NewTickReportCache(c cache.Service, ttl time.Duration) *TickReportCache {
	return &TickReportCache{c: c, ttl: ttl}
}

// PublishReport stores r under its tick hour and as the latest report.
// Skipped ticks are not stored.
func (s *TickReportCache) PublishReport(ctx context.Context, r models.TickReport) error {
	if r.Skipped != "" {
		return nil
	}
	hourKey := cache.GenerateKeyWithParams(reportPrefix, r.Now.UTC().Truncate(time.Hour).Unix())
	if err := s.c.Set(ctx, hourKey, r, s.ttl); err != nil {
		return fmt.Errorf("cache tick report: %w", err)
	}
	if err := s.c.Set(ctx, cache.GenerateKey(reportPrefix, "last"), r, s.ttl); err != nil {
		return fmt.Errorf("cache tick report: %w", err)
	}
	return nil
}

// Latest returns the most recent non-skipped report.
func (s *TickReportCache) Latest(ctx context.Context) (models.TickReport, bool, error) {
	return s.get(ctx, cache.GenerateKey(reportPrefix, "last"))
}

// At returns the report of the tick that ran in hour h.
func (s *TickReportCache) At(ctx context.Context, h time.Time) (models.TickReport, bool, error) {
	return s.get(ctx, cache.GenerateKeyWithParams(reportPrefix, h.UTC().Truncate(time.Hour).Unix()))
}

func (s *TickReportCache) get(ctx context.Context, key string) (models.TickReport, bool, error) {
	var r models.TickReport
	if err := s.c.Get(ctx, key, &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.TickReport{}, false, nil
		}
		return models.TickReport{}, false, err
	}
	return r, true, nil
}
