package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/service/ratelimit"
	"ForeCrypt/internal/usecase"
	"ForeCrypt/pkg/cache"
	xhttp "ForeCrypt/pkg/http"
	xlogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/queue"
	"ForeCrypt/pkg/util"

	"github.com/labstack/echo/v4"
)

// TickRunner is the slice of the cycle scheduler the API drives.
type TickRunner interface {
	RunTick(ctx context.Context, now time.Time) models.TickReport
	Now() time.Time
	LastReport() (models.TickReport, bool)
}

// ReportReader serves tick reports shared between instances.
type ReportReader interface {
	Latest(ctx context.Context) (models.TickReport, bool, error)
	At(ctx context.Context, hour time.Time) (models.TickReport, bool, error)
}

// ForecastEchoHandler exposes forecasts, model state, tick reports and charts.
type ForecastEchoHandler struct {
	logger  *xlogger.Logger
	uc      *usecase.ForecastsUseCase
	ticks   TickRunner
	reports ReportReader
	charts  cache.Service
	queue   queue.Publisher
	rl      *ratelimit.Limiter

	chartTTL time.Duration
}

type ForecastHandlerOption func(*ForecastEchoHandler)

// WithReports serves tick reports from a shared cache instead of this process only.
func WithReports(r ReportReader) ForecastHandlerOption {
	return func(h *ForecastEchoHandler) { h.reports = r }
}

// WithChartCache caches rendered charts for ttl.
func WithChartCache(c cache.Service, ttl time.Duration) ForecastHandlerOption {
	return func(h *ForecastEchoHandler) { h.charts, h.chartTTL = c, ttl }
}

// WithTickQueue hands fire-and-forget tick requests to a shared queue.
func WithTickQueue(p queue.Publisher) ForecastHandlerOption {
	return func(h *ForecastEchoHandler) { h.queue = p }
}

func NewForecastEchoHandler(logger *xlogger.Logger, uc *usecase.ForecastsUseCase, ticks TickRunner, opts ...ForecastHandlerOption) *ForecastEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &ForecastEchoHandler{logger: logger, uc: uc, ticks: ticks, rl: ratelimit.New()}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/series", h.ListSeries)
	g.GET("/series/:series/overview", h.Overview)
	g.GET("/forecasts", h.Forecast)
	g.GET("/forecasts/chart.png", h.Chart)
	g.GET("/states", h.States)
	g.GET("/metrics/errors", h.ErrorStats)
	g.GET("/ticks/last", h.LastTick)
	g.POST("/ticks/run", h.RunTick)
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{"status": "ok", "time": h.ticks.Now()})
}

func (h *ForecastEchoHandler) ListSeries(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.uc.Series())
}

func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.uc.GetForecast(c.Request().Context(), usecase.GetForecastParams{
		Series:  normalizeSeries(req.Series),
		Model:   req.Model,
		History: req.History,
	})
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) Overview(c echo.Context) error {
	res, err := h.uc.Overview(c.Request().Context(), normalizeSeries(c.Param("series")))
	if err != nil {
		return h.fail(c, "overview", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) Chart(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	res, err := h.uc.GetForecast(ctx, usecase.GetForecastParams{
		Series:  normalizeSeries(req.Series),
		Model:   req.Model,
		History: req.History,
	})
	if err != nil {
		return h.fail(c, "chart", err)
	}

	key := chartKey(res, req.History)
	if h.charts != nil {
		var png []byte
		if err := h.charts.Get(ctx, key, &png); err == nil {
			return c.Blob(http.StatusOK, "image/png", png)
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("chart cache get error", xlogger.Error(err))
		}
	}

	png, err := renderForecastChart(res)
	if errors.Is(err, errNothingToPlot) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no data to plot yet"))
	}
	if err != nil {
		return h.fail(c, "chart", err)
	}
	if h.charts != nil {
		if err := h.charts.Set(ctx, key, png, h.chartTTL); err != nil {
			h.logger.Warn("chart cache set error", xlogger.Error(err))
		}
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *ForecastEchoHandler) States(c echo.Context) error {
	req := &models.StateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	states, err := h.uc.States(c.Request().Context(), normalizeSeries(req.Series))
	if err != nil {
		return h.fail(c, "states", err)
	}
	return xhttp.ListResponse(c, states, int64(len(states)))
}

func (h *ForecastEchoHandler) ErrorStats(c echo.Context) error {
	req := &models.ErrorStatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	stats, err := h.uc.ErrorStats(c.Request().Context(), normalizeSeries(req.Series), req.Days)
	if err != nil {
		return h.fail(c, "error stats", err)
	}
	return xhttp.ListResponse(c, stats, int64(len(stats)))
}

func (h *ForecastEchoHandler) LastTick(c echo.Context) error {
	req := &models.TickReportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	if req.Hour != "" {
		hour, ok := xhttp.ParseTime(req.Hour)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.InvalidParamError("hour", "hour must be RFC3339 or unix seconds"))
		}
		if h.reports == nil {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("tick history is not kept"))
		}
		r, found, err := h.reports.At(ctx, hour)
		if err != nil {
			return h.fail(c, "tick report", err)
		}
		if !found {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no tick report for %s", util.FloorHour(hour).Format(time.RFC3339)))
		}
		return xhttp.SuccessResponse(c, r)
	}

	if h.reports != nil {
		r, found, err := h.reports.Latest(ctx)
		if err != nil {
			h.logger.Warn("tick report cache error", xlogger.Error(err))
		} else if found {
			return xhttp.SuccessResponse(c, r)
		}
	}
	r, ok := h.ticks.LastReport()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no tick has run yet"))
	}
	return xhttp.SuccessResponse(c, r)
}

// RunTick triggers a tick outside the cron schedule. Without wait=true the
// tick runs in the background and the request returns 202 at once.
func (h *ForecastEchoHandler) RunTick(c echo.Context) error {
	req := &models.RunTickRequest{}
	// The default binder ignores the query string on POST.
	if err := new(echo.DefaultBinder).BindQueryParams(c, req); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid query parameters"))
	}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":ticks", 2, 0.05) {
		h.logger.Warn("tick trigger rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	now := h.ticks.Now()
	if req.Now != "" {
		t, ok := xhttp.ParseTime(req.Now)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.InvalidParamError("now", "now must be RFC3339 or unix seconds"))
		}
		now = t.UTC()
	}

	if req.Wait {
		return xhttp.SuccessResponse(c, h.ticks.RunTick(c.Request().Context(), now))
	}
	if h.queue != nil {
		tr := models.TickRequest{Hour: now, RequestedAt: time.Now().UTC(), Source: c.RealIP()}
		if err := h.queue.Publish(c.Request().Context(), models.TickRequestType, tr); err != nil {
			h.logger.Error("enqueue tick request failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("tick queue unavailable").WithError(err))
		}
		return xhttp.DataResponse(c, http.StatusAccepted, map[string]any{"now": now, "queued": true})
	}
	go h.ticks.RunTick(context.WithoutCancel(c.Request().Context()), now)
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]any{"now": now})
}

func (h *ForecastEchoHandler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrMirrorDisabled) {
		err = xhttp.NewAppError("ERR_UNAVAILABLE", "", err.Error(), http.StatusServiceUnavailable)
	}
	if xhttp.AsAppError(err) == nil {
		h.logger.Error(op+" usecase error", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, err)
}

func normalizeSeries(s string) models.SeriesID {
	return models.SeriesID(strings.ToUpper(strings.TrimSpace(s)))
}

func chartKey(res *usecase.GetForecastResult, history int) string {
	issue := int64(0)
	if res.Issue != nil {
		issue = res.Issue.Unix()
	}
	return cache.GenerateKeyWithParams("chart", res.Series, res.Model, issue, history, len(res.History))
}
