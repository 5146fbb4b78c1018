package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/queue"

	"github.com/stretchr/testify/assert"
)

func TestManualTickJobRejectsBadRequests(t *testing.T) {
	job := ManualTickJob{}
	assert.Equal(t, models.TickRequestType, job.Type())

	err := job.Handle(context.Background(), json.RawMessage(`not json`))
	assert.ErrorIs(t, err, queue.ErrSkip)

	err = job.Handle(context.Background(), json.RawMessage(`{"source":"10.0.0.1"}`))
	assert.ErrorIs(t, err, queue.ErrSkip)
}
