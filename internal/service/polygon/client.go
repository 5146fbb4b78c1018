package polygon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/internal/service/ratelimit"
	"ForeCrypt/pkg/util"

	polygon "github.com/polygon-io/client-go/rest"
	pmodels "github.com/polygon-io/client-go/rest/models"
)

// pageLimit is the largest aggregate page polygon serves.
const pageLimit = 50000

// Client reads hourly crypto aggregates (ticker X:<series><quote>) from polygon.io.
type Client struct {
	rest       *polygon.Client
	quote      string
	limiter    *ratelimit.Limiter
	rateBurst  float64
	ratePerSec float64
}

type Option func(*Client)

func WithQuote(q string) Option {
	return func(c *Client) {
		if q != "" {
			c.quote = q
		}
	}
}

func WithRateLimit(l *ratelimit.Limiter, burst, perSec float64) Option {
	return func(c *Client) {
		c.limiter, c.rateBurst, c.ratePerSec = l, burst, perSec
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{rest: polygon.New(apiKey), quote: "USD"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "polygon" }

func (c *Client) ticker(series models.SeriesID) string {
	return fmt.Sprintf("X:%s%s", series, c.quote)
}

func (c *Client) FetchRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error) {
	start, end := util.CeilHour(from), util.FloorHour(to)
	if end.Before(start) {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.Name(), c.rateBurst, c.ratePerSec); err != nil {
			return nil, err
		}
	}

	params := pmodels.ListAggsParams{
		Ticker:     c.ticker(series),
		Multiplier: 1,
		Timespan:   pmodels.Timespan("hour"),
		From:       pmodels.Millis(start),
		To:         pmodels.Millis(end),
	}.
		WithAdjusted(true).
		WithOrder(pmodels.Order("asc")).
		WithLimit(pageLimit)

	it := c.rest.ListAggs(ctx, params)
	var out []models.PricePoint
	for it.Next() {
		agg := it.Item()
		ts := util.FloorHour(time.Time(agg.Timestamp))
		if ts.Before(start) || ts.After(end) || agg.Close <= 0 {
			continue
		}
		out = append(out, models.PricePoint{Series: series, Timestamp: ts, Price: agg.Close})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggs %s: %w", c.ticker(series), err)
	}
	return models.NewWindow(series, start, end, out).Points, nil
}

// FetchHours issues one range request per contiguous run of requested hours.
func (c *Client) FetchHours(ctx context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error) {
	if len(hours) == 0 {
		return nil, nil
	}
	sorted := make([]time.Time, len(hours))
	want := make(map[int64]struct{}, len(hours))
	for i, h := range hours {
		sorted[i] = util.FloorHour(h)
		want[sorted[i].Unix()] = struct{}{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var out []models.PricePoint
	for _, run := range util.HourRuns(dedupe(sorted)) {
		pts, err := c.FetchRange(ctx, series, run[0], run[len(run)-1])
		if err != nil {
			return out, err
		}
		for _, p := range pts {
			if _, ok := want[p.Timestamp.Unix()]; ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func dedupe(sorted []time.Time) []time.Time {
	out := sorted[:0]
	for i, t := range sorted {
		if i > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}

var _ drepo.PriceSource = (*Client)(nil)
