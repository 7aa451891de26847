package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope wraps every JSON answer; Status repeats the HTTP status.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListData is the payload of list endpoints.
type ListData struct {
	Rows  interface{} `json:"rows"`
	Total int         `json:"total"`
}

func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Status: status, Message: http.StatusText(status), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

func ListResponse(c echo.Context, rows interface{}, total int) error {
	return SuccessResponse(c, ListData{Rows: rows, Total: total})
}

// ValidationErrorResponse writes the field errors from ReadAndValidateRequest.
func ValidationErrorResponse(c echo.Context, errs []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse renders an AppError with its status; anything else is a 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return DataResponse(c, http.StatusInternalServerError, []*AppError{InternalError("something went wrong")})
}
