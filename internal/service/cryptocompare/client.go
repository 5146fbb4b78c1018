package cryptocompare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	"ForeCrypt/internal/service/ratelimit"
	xhttp "ForeCrypt/pkg/http"
	applogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/util"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseURL = "https://min-api.cryptocompare.com/data/v2/histohour"
	// MaxPoints is the most rows one histohour call returns.
	MaxPoints = 2000

	userAgent = "forecrypt-acquisition/1"
)

// Client fetches hourly closes from the CryptoCompare histohour endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	quote      string
	http       *xhttp.Client
	limiter    *ratelimit.Limiter
	rateBurst  float64
	ratePerSec float64
	retries    uint64
	l          *applogger.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithQuote sets the quote currency (tsym), USD by default.
func WithQuote(q string) Option {
	return func(c *Client) {
		if q != "" {
			c.quote = q
		}
	}
}

// WithRateLimit caps requests with a token bucket shared by every series.
func WithRateLimit(l *ratelimit.Limiter, burst, perSec float64) Option {
	return func(c *Client) {
		c.limiter, c.rateBurst, c.ratePerSec = l, burst, perSec
	}
}

func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = xhttp.NewClient(xhttp.WithTimeout(d), xhttp.WithUserAgent(userAgent)) }
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.l = l
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		quote:   "USD",
		http:    xhttp.NewClient(xhttp.WithTimeout(30*time.Second), xhttp.WithUserAgent(userAgent)),
		retries: 3,
		l:       applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "cryptocompare" }

type ohlcv struct {
	Time  int64   `json:"time"`
	Close float64 `json:"close"`
}

type histoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		TimeFrom int64   `json:"TimeFrom"`
		TimeTo   int64   `json:"TimeTo"`
		Data     []ohlcv `json:"Data"`
	} `json:"Data"`
}

// FetchRange pages backwards from floor_hour(to) until from is covered.
func (c *Client) FetchRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error) {
	start, end := util.CeilHour(from), util.FloorHour(to)
	if end.Before(start) {
		return nil, nil
	}
	var out []models.PricePoint
	cursor := end
	for !cursor.Before(start) {
		hours := int(cursor.Sub(start)/time.Hour) + 1
		if hours > MaxPoints {
			hours = MaxPoints
		}
		page, err := c.page(ctx, series, cursor, hours)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			if p.Timestamp.Before(start) || p.Timestamp.After(end) {
				continue
			}
			out = append(out, p)
		}
		cursor = cursor.Add(-util.Hours(hours))
	}
	w := models.NewWindow(series, start, end, out)
	return w.Points, nil
}

// FetchHours batches contiguous hours into range calls and returns only the requested hours.
func (c *Client) FetchHours(ctx context.Context, series models.SeriesID, hours []time.Time) ([]models.PricePoint, error) {
	want := make(map[int64]struct{}, len(hours))
	norm := make([]time.Time, 0, len(hours))
	for _, h := range hours {
		h = util.FloorHour(h)
		if _, dup := want[h.Unix()]; dup {
			continue
		}
		want[h.Unix()] = struct{}{}
		norm = append(norm, h)
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i].Before(norm[j]) })
	var out []models.PricePoint
	for _, run := range util.HourRuns(norm) {
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

// page requests n points ending at toTs. The endpoint returns limit+1 rows, so limit is n-1.
func (c *Client) page(ctx context.Context, series models.SeriesID, toTs time.Time, n int) ([]models.PricePoint, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.Name(), c.rateBurst, c.ratePerSec); err != nil {
			return nil, err
		}
	}
	limit := n - 1
	if limit < 1 {
		// limit=0 is rejected by the endpoint; ask for two rows and filter.
		limit = 1
	}
	req := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL,
		QueryParams: map[string][]string{
			"fsym":  {string(series)},
			"tsym":  {c.quote},
			"limit": {strconv.Itoa(limit)},
			"toTs":  {strconv.FormatInt(toTs.Unix(), 10)},
		},
	}
	if c.apiKey != "" {
		req.Headers = map[string]string{"Authorization": "Apikey " + c.apiKey}
	}

	var resp histoResponse
	op := func() error {
		resp = histoResponse{}
		if err := c.http.SendAndParse(ctx, req, &resp); err != nil {
			var se *xhttp.StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.Response == "Error" {
			return backoff.Permanent(fmt.Errorf("cryptocompare: %s", resp.Message))
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	notify := func(err error, wait time.Duration) {
		c.l.Warn("cryptocompare request retry",
			applogger.String("series", string(series)),
			applogger.Duration("wait_ms", wait),
			applogger.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, fmt.Errorf("histohour %s to %s: %w", series, toTs.Format(time.RFC3339), err)
	}

	out := make([]models.PricePoint, 0, len(resp.Data.Data))
	for _, row := range resp.Data.Data {
		if row.Close <= 0 {
			continue
		}
		out = append(out, models.PricePoint{
			Series:    series,
			Timestamp: time.Unix(row.Time, 0).UTC(),
			Price:     row.Close,
		})
	}
	return out, nil
}

var _ drepo.PriceSource = (*Client)(nil)
