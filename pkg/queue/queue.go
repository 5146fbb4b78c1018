package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Publisher enqueues messages for whichever consumer pops them first.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload any) error
}

// Config tunes the consumer side.
type Config struct {
	Workers      int           // concurrent workers
	RetryLimit   int           // retries before a message is dead-lettered
	RetryDelay   time.Duration // delay before a failed message is requeued
	BlockTimeout time.Duration // BRPOP timeout per poll
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// ErrSkip marks a message that should be dropped without retry.
var ErrSkip = errors.New("queue: skip message")

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrSkip)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: decode payload: %v", ErrSkip, err)
	}
	return v, nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
	outcomeDropped
)

// settle decides what happens to msg after its handler returned err.
func settle(msg *Message, err error, retryLimit int) outcome {
	switch {
	case err == nil:
		return outcomeDone
	case errors.Is(err, ErrSkip), errors.Is(err, context.Canceled):
		return outcomeDropped
	}
	msg.LastError = err.Error()
	if msg.Attempts < retryLimit {
		msg.Attempts++
		return outcomeRetry
	}
	return outcomeDead
}
