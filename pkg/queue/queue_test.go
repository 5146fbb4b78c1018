package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickPayload struct {
	Hour string `json:"hour"`
}

func TestDecode(t *testing.T) {
	p, err := Decode[tickPayload](json.RawMessage(`{"hour":"2024-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00Z", p.Hour)

	_, err = Decode[tickPayload](nil)
	assert.ErrorIs(t, err, ErrSkip)
	_, err = Decode[tickPayload](json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, ErrSkip)
}

func TestSettle(t *testing.T) {
	msg := &Message{ID: "m1"}
	assert.Equal(t, outcomeDone, settle(msg, nil, 2))
	assert.Equal(t, outcomeDropped, settle(msg, ErrSkip, 2))
	assert.Equal(t, outcomeDropped, settle(msg, context.Canceled, 2))
	assert.Zero(t, msg.Attempts)

	boom := errors.New("boom")
	assert.Equal(t, outcomeRetry, settle(msg, boom, 2))
	assert.Equal(t, outcomeRetry, settle(msg, boom, 2))
	assert.Equal(t, 2, msg.Attempts)
	assert.Equal(t, outcomeDead, settle(msg, boom, 2))
	assert.Equal(t, "boom", msg.LastError)
}

func TestNewRedisQueueDefaults(t *testing.T) {
	q := NewRedisQueue(nil, nil, Config{}, WithKeyPrefix("test:q"))
	assert.Equal(t, 1, q.cfg.Workers)
	assert.Equal(t, "test:q:messages", q.queueKey())
	assert.Equal(t, "test:q:dlq", q.deadLetterKey())

	q.Register(namedJob{"a"}, namedJob{"a"})
	assert.Len(t, q.jobs, 1)
}

type namedJob struct{ typ string }

func (j namedJob) Name() string                                  { return "job_" + j.typ }
func (j namedJob) Type() string                                  { return j.typ }
func (namedJob) Handle(context.Context, json.RawMessage) error { return nil }
