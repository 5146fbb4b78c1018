package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"ForeCrypt/internal/domain/models"
)

// DataResponse writes the envelope. The transport status is always 200; the
// outcome travels in the body.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: total,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes err as a list of one AppError. Errors that are
// neither an AppError nor a known domain sentinel become a bare 500.
func AppErrorResponse(c echo.Context, err error) error {
	if appErr := AsAppError(err); appErr != nil {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return InternalServerErrorResponse(c)
}

// AsAppError maps err to the AppError a client should see, or nil when the
// error is internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrUnknownSeries), errors.Is(err, models.ErrUnknownModel):
		return NotFoundError(err.Error())
	case errors.Is(err, models.ErrArtifactNotFound):
		return NewAppError("ERR_NOT_TRAINED", "", err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInsufficientData):
		return NewAppError("ERR_INSUFFICIENT_DATA", "", err.Error(), http.StatusUnprocessableEntity)
	}
	return nil
}
