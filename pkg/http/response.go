package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes data inside the envelope.
func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

// PageResponse writes a 200 whose data is a typed page, such as a window
// over the kill ledger.
func PageResponse[T any](c echo.Context, p Page[T]) error {
	return c.JSON(http.StatusOK, Envelope[Page[T]]{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    p,
	})
}

// BadRequestResponse writes a 400 whose data is the binding or validation
// failure returned by ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// AppErrorResponse writes err as a one-element error list with the status
// it carries. Errors that are not AppErrors become an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("internal error").WithError(err)
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
