package usecase

import (
	"context"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/pkg/util"
)

// ConsistencyChecker finds hours missing from the historical store.
type ConsistencyChecker struct {
	store drepo.HistoricalStore
}

func NewConsistencyChecker(store drepo.HistoricalStore) *ConsistencyChecker {
	return &ConsistencyChecker{store: store}
}

// MissingHours returns every hour in [ceil_hour(start), floor_hour(end)] with no
// stored point, ascending and unique.
func (c *ConsistencyChecker) MissingHours(ctx context.Context, series models.SeriesID, start, end time.Time) ([]time.Time, error) {
	from, to := util.CeilHour(start), util.FloorHour(end)
	if to.Before(from) {
		return nil, nil
	}
	if gf, ok := c.store.(drepo.GapFinder); ok {
		missing, err := gf.MissingHours(ctx, series, from, to)
		if err != nil {
			return nil, fmt.Errorf("missing hours %s: %w", series, err)
		}
		return missing, nil
	}

	existing, err := c.store.ExistingHours(ctx, series, from, to)
	if err != nil {
		return nil, fmt.Errorf("existing hours %s: %w", series, err)
	}
	have := make(map[int64]struct{}, len(existing))
	for _, h := range existing {
		have[util.FloorHour(h).Unix()] = struct{}{}
	}
	var missing []time.Time
	for _, h := range util.HourRange(from, to) {
		if _, ok := have[h.Unix()]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// CheckConsistency is true when no hour in the range is missing.
func (c *ConsistencyChecker) CheckConsistency(ctx context.Context, series models.SeriesID, start, end time.Time) (bool, error) {
	missing, err := c.MissingHours(ctx, series, start, end)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}
