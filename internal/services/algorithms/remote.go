package algorithms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	xhttp "ForeCrypt/pkg/http"
)

// Remote delegates fitting and forecasting to an external statistics service.
// The service owns the model state; it comes back as JSON and is stored verbatim.
//
//	POST {base}/fit      {"values": [...], "timestamps": [...], "params": {...}} -> {"state": ...}
//	POST {base}/forecast {"state": ..., "values": [...], "timestamps": [...], "horizon": n} -> {"values": [...], "origin": unix}
type Remote struct {
	name     string
	baseURL  string
	client   *xhttp.Client
	attempts int
	defaults models.Params
}

type RemoteOption func(*Remote)

// WithRemoteAttempts sets how many times a failed call is tried.
func WithRemoteAttempts(n int) RemoteOption {
	return func(r *Remote) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithRemoteDefaults sets default hyperparameters sent on every fit.
func WithRemoteDefaults(p models.Params) RemoteOption {
	return func(r *Remote) { r.defaults = p }
}

func NewRemote(name, baseURL string, timeout time.Duration, opts ...RemoteOption) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Remote{
		name:     name,
		baseURL:  baseURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		attempts: 2,
		defaults: models.Params{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) Defaults() models.Params { return r.defaults }

type remoteFitRequest struct {
	Values     []float64     `json:"values"`
	Timestamps []int64       `json:"timestamps"`
	Params     models.Params `json:"params"`
}

type remoteFitResponse struct {
	State json.RawMessage `json:"state"`
}

type remoteForecastRequest struct {
	State      json.RawMessage `json:"state"`
	Values     []float64       `json:"values"`
	Timestamps []int64         `json:"timestamps"`
	Horizon    int             `json:"horizon"`
}

type remoteForecastResponse struct {
	Values []float64 `json:"values"`
	Origin int64     `json:"origin"`
}

func unixHours(w models.HistoricalWindow) []int64 {
	out := make([]int64, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Timestamp.Unix()
	}
	return out
}

func (r *Remote) Fit(ctx context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	var resp remoteFitResponse
	err := r.postJSONWithRetry(ctx, "/fit", remoteFitRequest{
		Values:     frame.Values(),
		Timestamps: unixHours(frame),
		Params:     params,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.State) == 0 {
		return nil, fmt.Errorf("remote fit returned empty state")
	}
	return resp.State, nil
}

func (r *Remote) Forecast(ctx context.Context, state []byte, recent models.HistoricalWindow, horizon int) (models.Prediction, error) {
	if !json.Valid(state) {
		return models.Prediction{}, fmt.Errorf("%w: remote state is not JSON", models.ErrCorruptArtifact)
	}
	var resp remoteForecastResponse
	err := r.postJSONWithRetry(ctx, "/forecast", remoteForecastRequest{
		State:      state,
		Values:     recent.Values(),
		Timestamps: unixHours(recent),
		Horizon:    horizon,
	}, &resp)
	if err != nil {
		return models.Prediction{}, err
	}
	origin := time.Unix(resp.Origin, 0).UTC()
	if last, ok := recent.Last(); ok && resp.Origin == 0 {
		origin = last.Timestamp
	}
	values := resp.Values
	if len(values) > horizon {
		values = values[:horizon]
	}
	return models.Prediction{Origin: origin, Values: truncateNonFinite(values)}, nil
}

func (r *Remote) postJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if r.baseURL == "" {
		return fmt.Errorf("remote model %s: base url not configured", r.name)
	}
	err := r.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     r.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

func (r *Remote) postJSONWithRetry(ctx context.Context, path string, payload, dest interface{}) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = r.postJSON(ctx, path, payload, dest); err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if i == r.attempts || (errors.As(err, &se) && !se.Retryable()) {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
