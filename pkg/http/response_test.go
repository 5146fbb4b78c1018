package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ForeCrypt/internal/domain/models"
)

type envelope struct {
	Status int         `json:"status"`
	Data   []*AppError `json:"data"`
}

func writeError(t *testing.T, err error) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, err))

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		// the 500 body carries a string, not a list
		env = envelope{}
		var raw struct {
			Status int `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		env.Status = raw.Status
	}
	return rec.Code, env
}

func TestAppErrorResponseMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("load BTC/naive: %w", models.ErrArtifactNotFound), http.StatusNotFound, "ERR_NOT_TRAINED"},
		{fmt.Errorf("series DOGE: %w", models.ErrUnknownSeries), http.StatusNotFound, "ERR_NOT_FOUND"},
		{fmt.Errorf("model prophet: %w", models.ErrUnknownModel), http.StatusNotFound, "ERR_NOT_FOUND"},
		{fmt.Errorf("window 10..20: %w", models.ErrInsufficientData), http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"},
		{InvalidParamError("hour", "bad hour"), http.StatusBadRequest, "ERR_INVALID_PARAM"},
	}
	for _, tc := range cases {
		code, env := writeError(t, tc.err)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, tc.status, env.Status, tc.err.Error())
		require.Len(t, env.Data, 1)
		assert.Equal(t, tc.code, env.Data[0].Code)
	}

	_, env := writeError(t, InvalidParamError("hour", "bad hour"))
	assert.Equal(t, "hour", env.Data[0].Field)
}

func TestAppErrorResponseHidesInternalErrors(t *testing.T) {
	_, env := writeError(t, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Nil(t, AsAppError(errors.New("boom")))
	assert.Nil(t, AsAppError(nil))

	wrapped := fmt.Errorf("tick: %w", InternalError("tick queue unavailable").WithError(errors.New("redis down")))
	appErr := AsAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, "tick queue unavailable: redis down", appErr.Error())
}
