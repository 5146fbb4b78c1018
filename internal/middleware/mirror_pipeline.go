package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
)

// ErrBufferFull is returned when the mirror is down and the retry buffer has no room.
var ErrBufferFull = errors.New("mirror pipeline: buffer full")

// pendingWrite is one failed insert waiting to be replayed.
type pendingWrite struct {
	forecasts []models.ForecastRow
	points    []models.PricePoint
}

// MirrorPipeline sits between the Kafka mirror handlers and the analytics
// store. It drops malformed rows, forwards the rest, and parks failed writes
// in a bounded buffer that a background loop replays with backoff.
type MirrorPipeline struct {
	next    domrepo.ForecastMirror
	metrics domrepo.Metrics
	log     *applogger.Logger

	bufSize    int
	minBackoff time.Duration
	maxBackoff time.Duration

	bufCh   chan pendingWrite
	stopCh  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
}

type PipelineOption func(*MirrorPipeline)

// WithBufferSize sets how many failed writes are kept for replay.
func WithBufferSize(n int) PipelineOption {
	return func(p *MirrorPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff bounds the delay between replay attempts.
func WithBackoff(lo, hi time.Duration) PipelineOption {
	return func(p *MirrorPipeline) {
		if lo > 0 && hi >= lo {
			p.minBackoff, p.maxBackoff = lo, hi
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *MirrorPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewMirrorPipeline wraps next. metrics may be nil.
func NewMirrorPipeline(next domrepo.ForecastMirror, metrics domrepo.Metrics, opts ...PipelineOption) *MirrorPipeline {
	p := &MirrorPipeline{
		next:       next,
		metrics:    metrics,
		log:        applogger.Nop(),
		bufSize:    256,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan pendingWrite, p.bufSize)
	p.log = p.log.With(applogger.String("component", "mirror_pipeline"))
	return p
}

// Start launches the replay loop.
func (p *MirrorPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.replay(context.WithoutCancel(ctx))
}

// Stop ends the replay loop. Writes still buffered are logged and dropped.
func (p *MirrorPipeline) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.done
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("dropping buffered mirror writes", applogger.Int("pending", n))
	}
	return nil
}

// Pending reports how many writes wait for replay.
func (p *MirrorPipeline) Pending() int { return len(p.bufCh) }

func (p *MirrorPipeline) InsertForecasts(ctx context.Context, rows []models.ForecastRow) error {
	valid := rows[:0:0]
	for _, r := range rows {
		if err := validateForecastRow(r); err != nil {
			p.recordError("mirror_validate")
			p.log.Debug("drop forecast row", applogger.String("batch", r.BatchID), applogger.Error(err))
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil
	}
	return p.forward(ctx, pendingWrite{forecasts: valid})
}

func (p *MirrorPipeline) InsertHistorical(ctx context.Context, points []models.PricePoint) error {
	valid := points[:0:0]
	for _, pt := range points {
		if err := validatePoint(pt); err != nil {
			p.recordError("mirror_validate")
			p.log.Debug("drop price point", applogger.String("series", string(pt.Series)), applogger.Error(err))
			continue
		}
		valid = append(valid, pt)
	}
	if len(valid) == 0 {
		return nil
	}
	return p.forward(ctx, pendingWrite{points: valid})
}

// ErrorStats reads straight from the wrapped mirror.
func (p *MirrorPipeline) ErrorStats(ctx context.Context, series models.SeriesID, since time.Time) ([]models.ForecastErrorStats, error) {
	return p.next.ErrorStats(ctx, series, since)
}

func (p *MirrorPipeline) forward(ctx context.Context, w pendingWrite) error {
	start := time.Now()
	err := p.write(ctx, w)
	if err == nil {
		p.recordLatency("mirror_insert", time.Since(start).Seconds())
		return nil
	}
	p.recordError("mirror_insert")

	select {
	case p.bufCh <- w:
		p.log.Warn("mirror insert failed, buffered for replay",
			applogger.Int("pending", len(p.bufCh)),
			applogger.Error(err),
		)
		return nil
	default:
		p.recordError("mirror_buffer_full")
		return fmt.Errorf("%w: %v", ErrBufferFull, err)
	}
}

func (p *MirrorPipeline) write(ctx context.Context, w pendingWrite) error {
	if len(w.forecasts) > 0 {
		return p.next.InsertForecasts(ctx, w.forecasts)
	}
	return p.next.InsertHistorical(ctx, w.points)
}

func (p *MirrorPipeline) replay(ctx context.Context) {
	defer close(p.done)
	backoff := p.minBackoff
	for {
		select {
		case <-p.stopCh:
			return
		case w := <-p.bufCh:
			if err := p.write(ctx, w); err == nil {
				backoff = p.minBackoff
				continue
			}
			p.recordError("mirror_replay")
			// Put it back; if the buffer filled up meanwhile the write is lost.
			select {
			case p.bufCh <- w:
			default:
				p.recordError("mirror_buffer_drop")
				p.log.Error("mirror write dropped after replay failure")
			}
			t := time.NewTimer(backoff)
			select {
			case <-p.stopCh:
				t.Stop()
				return
			case <-t.C:
			}
			if backoff *= 2; backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
		}
	}
}

func (p *MirrorPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func (p *MirrorPipeline) recordLatency(op string, seconds float64) {
	if p.metrics != nil {
		p.metrics.RecordLatency(op, seconds)
	}
}

func validateForecastRow(r models.ForecastRow) error {
	switch {
	case r.Series == "" || r.Model == "":
		return fmt.Errorf("series or model empty")
	case r.IssueTimestamp.IsZero() || r.PredictedTimestamp.IsZero():
		return fmt.Errorf("timestamp missing")
	case !r.PredictedTimestamp.After(r.IssueTimestamp):
		return fmt.Errorf("predicted timestamp not after issue")
	case r.Step < 1:
		return fmt.Errorf("step %d", r.Step)
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return fmt.Errorf("value not finite")
	}
	return nil
}

func validatePoint(pt models.PricePoint) error {
	switch {
	case pt.Series == "":
		return fmt.Errorf("series empty")
	case pt.Timestamp.IsZero():
		return fmt.Errorf("timestamp missing")
	case pt.Price < 0 || math.IsNaN(pt.Price) || math.IsInf(pt.Price, 0):
		return fmt.Errorf("price %v", pt.Price)
	}
	return nil
}

var _ domrepo.ForecastMirror = (*MirrorPipeline)(nil)
