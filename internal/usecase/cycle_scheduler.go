package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ForeCrypt/internal/domain/models"
	drepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/util"

	"github.com/google/uuid"
)

// Clock supplies the tick time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ReportSink receives every finished tick report.
type ReportSink interface {
	PublishReport(ctx context.Context, r models.TickReport) error
}

type SchedulerConfig struct {
	Workers     int
	TickTimeout time.Duration
	FetchBuffer time.Duration
	// LeaseKey and LeaseTTL configure the optional external tick lease.
	LeaseKey string
	LeaseTTL time.Duration
}

// CycleDeps groups the collaborators of a CycleScheduler. Publisher, Locker,
// Metrics and Sinks are optional.
type CycleDeps struct {
	Series      []models.SeriesID
	Descriptors []models.ModelDescriptor
	Acquisition *DataAcquisition
	Checker     *ConsistencyChecker
	Dispatcher  *ModelDispatcher
	Builder     *ForecastBuilder
	States      drepo.StateStore
	Forecasts   drepo.ForecastStore
	Training    drepo.TrainingLog
	Publisher   drepo.ForecastPublisher
	Locker      drepo.TickLocker
	Metrics     drepo.Metrics
	Sinks       []ReportSink
	Clock       Clock
	Logger      *applogger.Logger
}

// CycleScheduler runs forecast ticks: one fetch per series, then retrain and
// forecast decisions for every (series, model) pair.
type CycleScheduler struct {
	deps CycleDeps
	cfg  SchedulerConfig
	l    *applogger.Logger

	tickMu sync.Mutex
	pairMu sync.Map // models.PairKey -> *sync.Mutex
	last   atomic.Pointer[models.TickReport]
}

func NewCycleScheduler(deps CycleDeps, cfg SchedulerConfig) *CycleScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchBuffer <= 0 {
		cfg.FetchBuffer = DefaultFetchBuffer
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "tick:lease"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 55 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = applogger.Nop()
	}
	return &CycleScheduler{deps: deps, cfg: cfg, l: deps.Logger}
}

// Now is the scheduler's clock reading.
func (s *CycleScheduler) Now() time.Time { return s.deps.Clock.Now() }

// LastReport returns the most recent tick report, if any tick ran.
func (s *CycleScheduler) LastReport() (models.TickReport, bool) {
	r := s.last.Load()
	if r == nil {
		return models.TickReport{}, false
	}
	return *r, true
}

// RunTick executes one tick against a single now. Per-pair failures are
// reported, never returned.
func (s *CycleScheduler) RunTick(ctx context.Context, now time.Time) models.TickReport {
	now = now.UTC()
	report := models.TickReport{Now: now, StartedAt: s.deps.Clock.Now()}

	if !s.tickMu.TryLock() {
		report.Skipped = "tick already running"
		report.FinishedAt = s.deps.Clock.Now()
		s.l.Warn("tick skipped", applogger.Time("now", now), applogger.String("reason", report.Skipped))
		return report
	}
	defer s.tickMu.Unlock()

	if s.deps.Locker != nil {
		ok, err := s.deps.Locker.TryLock(ctx, s.cfg.LeaseKey, s.cfg.LeaseTTL)
		if err != nil {
			s.l.Warn("tick lease unavailable, continuing", applogger.Error(err))
		} else if !ok {
			report.Skipped = "tick lease held elsewhere"
			report.FinishedAt = s.deps.Clock.Now()
			s.l.Warn("tick skipped", applogger.Time("now", now), applogger.String("reason", report.Skipped))
			return report
		} else {
			defer func() {
				if err := s.deps.Locker.Unlock(context.WithoutCancel(ctx), s.cfg.LeaseKey); err != nil {
					s.l.Warn("release tick lease", applogger.Error(err))
				}
			}()
		}
	}

	tickCtx := ctx
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	s.l.Info("tick started",
		applogger.Time("now", now),
		applogger.Int("series", len(s.deps.Series)),
		applogger.Int("models", len(s.deps.Descriptors)),
	)

	windows := s.fetchPhase(tickCtx, now, &report)
	report.Outcomes = s.pairPhase(tickCtx, now, windows)

	if report.Count(models.ActionForecast) > 0 && s.deps.Forecasts != nil {
		if err := s.deps.Forecasts.RefreshCombinedView(context.WithoutCancel(tickCtx)); err != nil {
			s.l.Warn("refresh combined view", applogger.Error(err))
		}
	}

	report.FinishedAt = s.deps.Clock.Now()
	s.finish(ctx, report)
	return report
}

// fetchPhase syncs every series once over the extended window.
func (s *CycleScheduler) fetchPhase(ctx context.Context, now time.Time, report *models.TickReport) map[models.SeriesID]models.HistoricalWindow {
	windows := make(map[models.SeriesID]models.HistoricalWindow, len(s.deps.Series))
	interval := TotalFetchInterval(s.deps.Descriptors, s.cfg.FetchBuffer)
	if interval == 0 {
		return windows
	}
	start, end := ExtendedStart(now, interval), util.FloorHour(now)

	for _, series := range s.deps.Series {
		if ctx.Err() != nil {
			report.Fetches = append(report.Fetches, models.SeriesFetch{Series: series, Error: ctx.Err().Error()})
			continue
		}
		w, fetch, err := s.deps.Acquisition.Sync(ctx, series, start, end)
		if err != nil {
			fetch.Error = err.Error()
			s.l.Error("series sync failed",
				applogger.String("series", string(series)),
				applogger.String("kind", models.ErrorKind(err)),
				applogger.Error(err),
			)
		} else {
			windows[series] = w
			s.l.Info("series synced",
				applogger.String("series", string(series)),
				applogger.Int("missing", fetch.Missing),
				applogger.Int("fetched", fetch.Fetched),
				applogger.Int("points", fetch.Points),
			)
		}
		report.Fetches = append(report.Fetches, fetch)
	}
	return windows
}

type pairJob struct {
	idx    int
	key    models.PairKey
	desc   models.ModelDescriptor
	window models.HistoricalWindow
}

func (s *CycleScheduler) pairPhase(ctx context.Context, now time.Time, windows map[models.SeriesID]models.HistoricalWindow) []models.PairOutcome {
	outcomes := make([]models.PairOutcome, 0, len(s.deps.Series)*len(s.deps.Descriptors))
	var jobs []pairJob
	for _, series := range s.deps.Series {
		w, ok := windows[series]
		for _, desc := range s.deps.Descriptors {
			key := models.PairKey{Series: series, Model: desc.Name}
			if !ok {
				outcomes = append(outcomes, skipped(key, "series fetch failed", "acquisition"))
				s.record(desc.Name, models.StepOutcome{Action: models.ActionNone, Result: models.ResultSkipped})
				continue
			}
			outcomes = append(outcomes, models.PairOutcome{Series: series, Model: desc.Name})
			jobs = append(jobs, pairJob{idx: len(outcomes) - 1, key: key, desc: desc, window: w})
		}
	}

	queue := make(chan pairJob)
	var wg sync.WaitGroup
	workers := s.cfg.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if err := ctx.Err(); err != nil {
					outcomes[job.idx] = models.PairOutcome{
						Series: job.key.Series,
						Model:  job.key.Model,
						Steps:  []models.StepOutcome{{Action: models.ActionNone, Result: models.ResultCancelled, Reason: err.Error()}},
					}
					s.record(job.key.Model, outcomes[job.idx].Steps[0])
					continue
				}
				// A started pair runs to completion even if the tick deadline passes.
				outcomes[job.idx] = s.runPair(context.WithoutCancel(ctx), job, now)
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
	return outcomes
}

func skipped(key models.PairKey, reason, kind string) models.PairOutcome {
	return models.PairOutcome{
		Series: key.Series,
		Model:  key.Model,
		Steps:  []models.StepOutcome{{Action: models.ActionNone, Result: models.ResultSkipped, Reason: reason, ErrorKind: kind}},
	}
}

func (s *CycleScheduler) pairLock(key models.PairKey) *sync.Mutex {
	mu, _ := s.pairMu.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *CycleScheduler) runPair(ctx context.Context, job pairJob, now time.Time) (out models.PairOutcome) {
	start := time.Now()
	out = models.PairOutcome{Series: job.key.Series, Model: job.key.Model}
	l := s.l.With(applogger.String("series", string(job.key.Series)), applogger.String("model", job.key.Model))

	mu := s.pairLock(job.key)
	mu.Lock()
	defer mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			l.Error("pair panicked", applogger.Error(err))
			out.Steps = append(out.Steps, models.StepOutcome{Action: models.ActionNone, Result: models.ResultFailed, Reason: err.Error(), ErrorKind: "internal"})
		}
		out.Duration = time.Since(start)
		for _, st := range out.Steps {
			s.record(job.key.Model, st)
		}
	}()

	state, err := s.initState(ctx, job.key)
	if err != nil {
		out.Steps = append(out.Steps, failed(models.ActionNone, err))
		l.Error("model state unavailable", applogger.Error(err))
		return out
	}

	retrain := RetrainDue(state, job.desc, now)
	forecast := ForecastDue(state, job.desc, now)
	if !retrain && !forecast {
		out.Steps = append(out.Steps, models.StepOutcome{Action: models.ActionNone, Result: models.ResultSkipped, Reason: "not due"})
		return out
	}

	// Whether a forecast may run is decided before this tick's retrain.
	existed, err := s.deps.Dispatcher.ModelExists(ctx, job.key.Series, job.key.Model)
	if err != nil {
		out.Steps = append(out.Steps, failed(models.ActionNone, err))
		l.Error("artifact probe failed", applogger.Error(err))
		return out
	}

	if retrain {
		step := s.retrain(ctx, job, now)
		s.logStep(l, step)
		out.Steps = append(out.Steps, step)
	}
	if forecast {
		var step models.StepOutcome
		if !existed {
			step = models.StepOutcome{
				Action:    models.ActionForecast,
				Result:    models.ResultSkipped,
				Reason:    "no artifact at decision time, deferred to next tick",
				ErrorKind: models.ErrorKind(models.ErrArtifactNotFound),
			}
		} else {
			step = s.forecast(ctx, job, now)
		}
		s.logStep(l, step)
		out.Steps = append(out.Steps, step)
	}
	return out
}

func (s *CycleScheduler) initState(ctx context.Context, key models.PairKey) (models.ModelState, error) {
	state, found, err := s.deps.States.Get(ctx, key)
	if err != nil {
		return models.ModelState{}, err
	}
	if found {
		return state, nil
	}
	return s.deps.States.Init(ctx, key)
}

func failed(action models.PairAction, err error) models.StepOutcome {
	return models.StepOutcome{Action: action, Result: models.ResultFailed, Reason: err.Error(), ErrorKind: models.ErrorKind(err)}
}

func (s *CycleScheduler) retrain(ctx context.Context, job pairJob, now time.Time) models.StepOutcome {
	from, to := TrainingWindow(now, job.desc)
	ok, err := s.deps.Checker.CheckConsistency(ctx, job.key.Series, from, to)
	if err != nil {
		return failed(models.ActionRetrain, err)
	}
	if !ok {
		return models.StepOutcome{
			Action:    models.ActionRetrain,
			Result:    models.ResultSkipped,
			Reason:    fmt.Sprintf("training window %s..%s has gaps", from.Format(time.RFC3339), to.Format(time.RFC3339)),
			ErrorKind: models.ErrorKind(models.ErrInsufficientData),
		}
	}

	frame := job.window.Slice(from, to)
	art, err := s.deps.Dispatcher.FitAny(ctx, job.key.Model, frame, nil)
	if err != nil {
		return failed(models.ActionRetrain, err)
	}
	if err := s.deps.Dispatcher.Save(ctx, art); err != nil {
		return failed(models.ActionRetrain, err)
	}
	if s.deps.Training != nil {
		run := models.TrainingRun{
			Series:       job.key.Series,
			Model:        job.key.Model,
			FitTimestamp: art.FitTimestamp,
			WindowStart:  from,
			WindowEnd:    to,
			Points:       frame.Len(),
		}
		if err := s.deps.Training.RecordTraining(ctx, run); err != nil {
			s.l.Warn("record training run", applogger.String("pair", job.key.String()), applogger.Error(err))
		}
	}
	if err := s.deps.States.MarkRetrained(ctx, job.key, now); err != nil {
		return failed(models.ActionRetrain, err)
	}
	return models.StepOutcome{Action: models.ActionRetrain, Result: models.ResultOK}
}

func (s *CycleScheduler) forecast(ctx context.Context, job pairJob, now time.Time) models.StepOutcome {
	from, to := ForecastInputWindow(now, job.desc)
	ok, err := s.deps.Checker.CheckConsistency(ctx, job.key.Series, from, to)
	if err != nil {
		return failed(models.ActionForecast, err)
	}
	if !ok {
		return models.StepOutcome{
			Action:    models.ActionForecast,
			Result:    models.ResultSkipped,
			Reason:    fmt.Sprintf("input window %s..%s has gaps", from.Format(time.RFC3339), to.Format(time.RFC3339)),
			ErrorKind: models.ErrorKind(models.ErrInsufficientData),
		}
	}

	art, err := s.deps.Dispatcher.Load(ctx, job.key.Series, job.key.Model)
	if err != nil {
		return failed(models.ActionForecast, err)
	}
	input := job.window.Slice(from, to)

	records, err := s.deps.Builder.CreateForecastDataframe(ctx, art, input, job.desc.HorizonHours, now)
	if err != nil {
		return failed(models.ActionForecast, err)
	}
	if len(records) == 0 {
		return failed(models.ActionForecast, errors.New("model produced no finite values"))
	}

	batch := models.ForecastBatch{
		ID:          uuid.NewString(),
		Descriptor:  job.desc,
		InnerParams: art.Params,
		Records:     records,
		InputStart:  from,
		InputEnd:    to,
		UploadedAt:  s.deps.Clock.Now(),
	}
	if err := s.deps.Forecasts.SaveForecasts(ctx, batch); err != nil {
		return failed(models.ActionForecast, err)
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishForecasts(ctx, batch); err != nil {
			s.l.Warn("publish forecasts", applogger.String("pair", job.key.String()), applogger.Error(err))
		}
	}
	if err := s.deps.States.MarkForecasted(ctx, job.key, now); err != nil {
		return failed(models.ActionForecast, err)
	}

	step := models.StepOutcome{Action: models.ActionForecast, Result: models.ResultOK}
	if len(records) < job.desc.HorizonHours {
		step.Reason = fmt.Sprintf("partial horizon %d/%d", len(records), job.desc.HorizonHours)
	}
	return step
}

func (s *CycleScheduler) record(model string, st models.StepOutcome) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.RecordPairStep(model, st.Action, st.Result)
	if st.Result == models.ResultFailed {
		s.deps.Metrics.RecordError(st.ErrorKind)
	}
}

func (s *CycleScheduler) logStep(l *applogger.Logger, st models.StepOutcome) {
	fields := []applogger.Field{
		applogger.String("action", string(st.Action)),
		applogger.String("result", string(st.Result)),
	}
	if st.Reason != "" {
		fields = append(fields, applogger.String("reason", st.Reason))
	}
	if st.ErrorKind != "" {
		fields = append(fields, applogger.String("kind", st.ErrorKind))
	}
	switch st.Result {
	case models.ResultFailed:
		l.Error("pair step failed", fields...)
	case models.ResultSkipped:
		l.Info("pair step skipped", fields...)
	default:
		l.Info("pair step done", fields...)
	}
}

func (s *CycleScheduler) finish(ctx context.Context, report models.TickReport) {
	s.last.Store(&report)

	failures := 0
	for _, o := range report.Outcomes {
		if o.Failed() {
			failures++
		}
	}
	duration := report.FinishedAt.Sub(report.StartedAt)
	s.l.Info("tick finished",
		applogger.Time("now", report.Now),
		applogger.Duration("duration_ms", duration),
		applogger.Int("pairs", len(report.Outcomes)),
		applogger.Int("retrained", report.Count(models.ActionRetrain)),
		applogger.Int("forecasted", report.Count(models.ActionForecast)),
		applogger.Int("failed", failures),
	)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTick(duration, len(report.Outcomes))
	}
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range s.deps.Sinks {
		if err := sink.PublishReport(sinkCtx, report); err != nil {
			s.l.Warn("publish tick report", applogger.Error(err))
		}
	}
}
