package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
	series   []string
}

func (h *flakyHandler) Topic() string { return "forecrypt.forecasts" }

func (h *flakyHandler) Handle(ctx context.Context, _ []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.series = append(h.series, SeriesFrom(ctx))
	if h.calls <= h.failures {
		return errors.New("clickhouse unavailable")
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestProcessRetriesUntilHandled(t *testing.T) {
	c := newTestConsumer(t, 3)
	var errs []error
	c.WithConsumerHook(HookFuncs{
		Before: SeriesHook,
		Err:    func(_ context.Context, _ string, _ kafka.Message, err error) { errs = append(errs, err) },
	})

	h := &flakyHandler{failures: 2}
	settled := c.process(h, &message{topic: h.Topic(), km: kafka.Message{Key: []byte("BTC"), Value: []byte("{}")}})
	assert.True(t, settled)
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []string{"BTC", "BTC", "BTC"}, h.series)
	assert.Len(t, errs, 2)
}

func TestProcessWithoutDLQLeavesOffsetUncommitted(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := &flakyHandler{failures: 10}
	settled := c.process(h, &message{topic: h.Topic(), km: kafka.Message{Key: []byte("ETH")}})
	assert.False(t, settled)
	assert.Equal(t, 2, h.calls)
}

type panicHandler struct{}

func (panicHandler) Topic() string { return "forecrypt.historical" }
func (panicHandler) Handle(context.Context, []byte) error { panic("bad row") }

func TestProcessRecoversHandlerPanic(t *testing.T) {
	c := newTestConsumer(t, 0)
	assert.NotPanics(t, func() {
		assert.False(t, c.process(panicHandler{}, &message{topic: "forecrypt.historical"}))
	})
}

func TestStopBeforeStartAndStartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, 0)
	assert.Error(t, c.Start())
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 70; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 200*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestPartitionLockIsSharedPerPartition(t *testing.T) {
	c := newTestConsumer(t, 0)
	assert.Same(t, c.partitionLock("t", 1), c.partitionLock("t", 1))
	assert.NotSame(t, c.partitionLock("t", 1), c.partitionLock("t", 2))
}
