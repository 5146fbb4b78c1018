package usecase

import (
	"context"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/domain/repository"
	repo "ForeCrypt/internal/repository"
	"ForeCrypt/internal/services/algorithms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var naiveDesc = models.ModelDescriptor{
	Name:              "naive",
	TrainingSize:      48,
	UpdateInterval:    24 * time.Hour,
	ForecastInputSize: 24,
	ForecastFrequency: time.Hour,
	HorizonHours:      6,
}

type harness struct {
	source    *fakeSource
	store     *repo.MemoryStore
	states    *repo.MemoryStateStore
	artifacts *repo.MemoryArtifactStore
	sink      *recordingSink
	sched     *CycleScheduler
}

type harnessOpts struct {
	series   []models.SeriesID
	descs    []models.ModelDescriptor
	registry AlgorithmLookup
	cfg      SchedulerConfig
	locker   repository.TickLocker
}

func newHarness(o harnessOpts) *harness {
	if o.series == nil {
		o.series = []models.SeriesID{"BTC"}
	}
	if o.descs == nil {
		o.descs = []models.ModelDescriptor{naiveDesc}
	}
	if o.registry == nil {
		o.registry = algorithms.Builtin()
	}
	h := &harness{
		source:    newFakeSource(),
		store:     repo.NewMemoryStore(),
		states:    repo.NewMemoryStateStore(),
		artifacts: repo.NewMemoryArtifactStore(),
		sink:      &recordingSink{},
	}
	checker := NewConsistencyChecker(h.store)
	dispatcher := NewModelDispatcher(o.registry, o.descs, h.artifacts, nil, nil)
	h.sched = NewCycleScheduler(CycleDeps{
		Series:      o.series,
		Descriptors: o.descs,
		Acquisition: NewDataAcquisition(h.source, h.store, checker, nil, nil, nil),
		Checker:     checker,
		Dispatcher:  dispatcher,
		Builder:     NewForecastBuilder(dispatcher),
		States:      h.states,
		Forecasts:   h.store,
		Training:    h.store,
		Locker:      o.locker,
		Sinks:       []ReportSink{h.sink},
		Clock:       fixedClock{t: at(100)},
	}, o.cfg)
	return h
}

func steps(t *testing.T, r models.TickReport, series models.SeriesID, model string) []models.StepOutcome {
	t.Helper()
	o, ok := r.Outcome(series, model)
	require.True(t, ok, "no outcome for %s__%s", series, model)
	return o.Steps
}

func TestFirstTickRetrainsAndDefersForecast(t *testing.T) {
	h := newHarness(harnessOpts{})
	ctx := context.Background()
	now := at(60).Add(30 * time.Minute)

	r := h.sched.RunTick(ctx, now)

	require.Len(t, r.Fetches, 1)
	assert.Empty(t, r.Fetches[0].Error)
	assert.Equal(t, 52, r.Fetches[0].Missing, "51h buffer window plus the current hour")

	st := steps(t, r, "BTC", "naive")
	require.Len(t, st, 2)
	assert.Equal(t, models.StepOutcome{Action: models.ActionRetrain, Result: models.ResultOK}, st[0])
	assert.Equal(t, models.ActionForecast, st[1].Action)
	assert.Equal(t, models.ResultSkipped, st[1].Result)
	assert.Equal(t, "artifact_not_found", st[1].ErrorKind)

	assert.Empty(t, h.store.Batches())
	runs := h.store.TrainingRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, 48, runs[0].Points)
	assert.Equal(t, at(13), runs[0].WindowStart)
	assert.Equal(t, at(60), runs[0].WindowEnd)

	state, found, err := h.states.Get(ctx, models.PairKey{Series: "BTC", Model: "naive"})
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, state.LastRetrain)
	assert.Equal(t, now, *state.LastRetrain)
	assert.Nil(t, state.LastForecast)
}

func TestNextTickForecastsAndRepeatIsIdempotent(t *testing.T) {
	h := newHarness(harnessOpts{})
	ctx := context.Background()

	h.sched.RunTick(ctx, at(60))
	r := h.sched.RunTick(ctx, at(61))

	st := steps(t, r, "BTC", "naive")
	require.Len(t, st, 1)
	assert.Equal(t, models.StepOutcome{Action: models.ActionForecast, Result: models.ResultOK}, st[0])

	batches := h.store.Batches()
	require.Len(t, batches, 1)
	b := batches[0]
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, at(38), b.InputStart)
	assert.Equal(t, at(61), b.InputEnd)
	require.Len(t, b.Records, 6)
	for i, rec := range b.Records {
		assert.Equal(t, at(61), rec.IssueTimestamp)
		assert.Equal(t, at(62+i), rec.PredictedTimestamp)
		assert.Equal(t, i+1, rec.Step)
	}

	// Only the new hour was requested on the second tick.
	reqs := h.source.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []time.Time{at(61)}, reqs[1])

	again := h.sched.RunTick(ctx, at(61))
	st = steps(t, again, "BTC", "naive")
	require.Len(t, st, 1)
	assert.Equal(t, models.ActionNone, st[0].Action)
	assert.Equal(t, "not due", st[0].Reason)
	assert.Len(t, h.store.Batches(), 1)
	assert.Len(t, h.source.requests(), 2)
	assert.Len(t, h.store.TrainingRuns(), 1)
}

func TestRetrainAfterUpdateInterval(t *testing.T) {
	h := newHarness(harnessOpts{})
	ctx := context.Background()

	h.sched.RunTick(ctx, at(60))
	h.sched.RunTick(ctx, at(61))
	r := h.sched.RunTick(ctx, at(84))

	st := steps(t, r, "BTC", "naive")
	require.Len(t, st, 2)
	assert.Equal(t, models.ActionRetrain, st[0].Action)
	assert.Equal(t, models.ResultOK, st[0].Result)
	assert.Equal(t, models.ActionForecast, st[1].Action)
	assert.Equal(t, models.ResultOK, st[1].Result)
	assert.Len(t, h.store.TrainingRuns(), 2)
}

func TestFailuresAreIsolated(t *testing.T) {
	broken := naiveDesc
	broken.Name, broken.Algorithm = "broken", "naive"
	broken.Params = models.Params{"period": 100}

	h := newHarness(harnessOpts{
		series: []models.SeriesID{"BTC", "ETH"},
		descs:  []models.ModelDescriptor{naiveDesc, broken},
		cfg:    SchedulerConfig{Workers: 2},
	})
	h.source.fail["ETH"] = errUpstream

	r := h.sched.RunTick(context.Background(), at(60))

	require.Len(t, r.Fetches, 2)
	assert.Empty(t, r.Fetches[0].Error)
	assert.Contains(t, r.Fetches[1].Error, "upstream unavailable")

	for _, model := range []string{"naive", "broken"} {
		st := steps(t, r, "ETH", model)
		require.Len(t, st, 1)
		assert.Equal(t, models.ResultSkipped, st[0].Result)
		assert.Equal(t, "acquisition", st[0].ErrorKind)
	}

	st := steps(t, r, "BTC", "broken")
	require.Len(t, st, 2)
	assert.Equal(t, models.ResultFailed, st[0].Result)
	assert.Equal(t, "fit", st[0].ErrorKind)

	st = steps(t, r, "BTC", "naive")
	assert.Equal(t, models.ResultOK, st[0].Result)

	state, _, err := h.states.Get(context.Background(), models.PairKey{Series: "BTC", Model: "broken"})
	require.NoError(t, err)
	assert.Nil(t, state.LastRetrain)
}

func TestGapInTrainingWindowSkipsRetrain(t *testing.T) {
	h := newHarness(harnessOpts{})
	h.source.gaps[at(30).Unix()] = true

	r := h.sched.RunTick(context.Background(), at(60))

	assert.Equal(t, 51, r.Fetches[0].Fetched)
	st := steps(t, r, "BTC", "naive")
	assert.Equal(t, models.ActionRetrain, st[0].Action)
	assert.Equal(t, models.ResultSkipped, st[0].Result)
	assert.Equal(t, "insufficient_data", st[0].ErrorKind)
	assert.Empty(t, h.store.TrainingRuns())

	exists, err := h.artifacts.Exists(context.Background(), ArtifactKey("BTC", "naive"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGapInForecastInputWindowSkipsForecast(t *testing.T) {
	desc := naiveDesc
	desc.UpdateInterval = 1000 * time.Hour
	desc.Params = models.Params{"period": 6}
	h := newHarness(harnessOpts{descs: []models.ModelDescriptor{desc}})
	ctx := context.Background()

	h.sched.RunTick(ctx, at(60))
	h.source.gaps[at(82).Unix()] = true

	r := h.sched.RunTick(ctx, at(84))
	st := steps(t, r, "BTC", "naive")
	require.Len(t, st, 1)
	assert.Equal(t, models.ActionForecast, st[0].Action)
	assert.Equal(t, models.ResultSkipped, st[0].Result)
	assert.Equal(t, "insufficient_data", st[0].ErrorKind)
	assert.Empty(t, h.store.Batches())

	state, _, err := h.states.Get(ctx, models.PairKey{Series: "BTC", Model: "naive"})
	require.NoError(t, err)
	assert.Nil(t, state.LastForecast)

	// The missing hour is fetched again on the next tick.
	delete(h.source.gaps, at(82).Unix())
	r = h.sched.RunTick(ctx, at(85))
	st = steps(t, r, "BTC", "naive")
	require.Len(t, st, 1)
	assert.Equal(t, models.ResultOK, st[0].Result)
	require.Len(t, h.store.Batches(), 1)
	assert.Equal(t, at(62), h.store.Batches()[0].InputStart)
}

func TestManyPairsInParallel(t *testing.T) {
	h := newHarness(harnessOpts{
		series: []models.SeriesID{"BTC", "ETH"},
		descs:  testDescriptors(),
		cfg:    SchedulerConfig{Workers: 4},
	})

	r := h.sched.RunTick(context.Background(), at(120))
	require.Len(t, r.Outcomes, 8)
	assert.Equal(t, 8, r.Count(models.ActionRetrain))

	r = h.sched.RunTick(context.Background(), at(121))
	assert.Equal(t, 8, r.Count(models.ActionForecast))
	assert.Len(t, h.store.Batches(), 8)
}

type slowAlgo struct {
	*algorithms.Naive
	delay time.Duration
}

func (slowAlgo) Name() string { return "slow" }

func (s slowAlgo) Fit(ctx context.Context, frame models.TrainingFrame, params models.Params) ([]byte, error) {
	time.Sleep(s.delay)
	return s.Naive.Fit(ctx, frame, params)
}

func TestDeadlineCancelsPendingPairsOnly(t *testing.T) {
	var descs []models.ModelDescriptor
	for _, name := range []string{"m1", "m2", "m3"} {
		d := naiveDesc
		d.Name, d.Algorithm = name, "slow"
		descs = append(descs, d)
	}
	h := newHarness(harnessOpts{
		descs:    descs,
		registry: algorithms.NewRegistry(slowAlgo{Naive: algorithms.NewNaive(), delay: 150 * time.Millisecond}),
		cfg:      SchedulerConfig{Workers: 1, TickTimeout: 50 * time.Millisecond},
	})

	r := h.sched.RunTick(context.Background(), at(60))

	first := steps(t, r, "BTC", "m1")
	assert.Equal(t, models.ResultOK, first[0].Result, "in-flight pair completes")
	for _, name := range []string{"m2", "m3"} {
		st := steps(t, r, "BTC", name)
		require.Len(t, st, 1)
		assert.Equal(t, models.ResultCancelled, st[0].Result)
	}
}

func TestHeldLeaseSkipsTick(t *testing.T) {
	h := newHarness(harnessOpts{locker: heldLocker{}})

	r := h.sched.RunTick(context.Background(), at(60))
	assert.NotEmpty(t, r.Skipped)
	assert.Empty(t, r.Outcomes)
	assert.Empty(t, h.source.requests())
}

func TestNoModelsConfigured(t *testing.T) {
	h := newHarness(harnessOpts{descs: []models.ModelDescriptor{}})

	r := h.sched.RunTick(context.Background(), at(60))
	assert.Empty(t, r.Fetches)
	assert.Empty(t, r.Outcomes)
	assert.Empty(t, h.source.requests())
}

func TestReportIsPublished(t *testing.T) {
	h := newHarness(harnessOpts{})
	_, ok := h.sched.LastReport()
	assert.False(t, ok)

	r := h.sched.RunTick(context.Background(), at(60))

	last, ok := h.sched.LastReport()
	require.True(t, ok)
	assert.Equal(t, r.Now, last.Now)
	require.Len(t, h.sink.reports, 1)
	assert.Equal(t, at(60), h.sink.reports[0].Now)
}
