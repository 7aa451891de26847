package api

import (
	"context"
	"errors"
	"net/http"

	"AstroCal/internal/domain/models"
	xhttp "AstroCal/pkg/http"
)

// toAppError maps domain errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var (
		verr *models.ValidationError
		cerr *models.ConfigurationError
	)
	switch {
	case errors.As(err, &verr):
		return xhttp.NewAppError("ERR_VALIDATION", verr.Field, verr.Reason, http.StatusBadRequest).WithError(err)
	case errors.As(err, &cerr):
		return xhttp.UnprocessableError("ERR_CONFIGURATION", cerr.Field, cerr.Reason).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrProviderUnavailable):
		return xhttp.ServiceUnavailableError("ephemeris provider unavailable").WithError(err)
	case errors.Is(err, models.ErrProvider):
		return xhttp.BadGatewayError("ephemeris provider error").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.TimeoutError("computation timed out").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
