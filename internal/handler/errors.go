package handler

import (
	"errors"
	"net/http"

	"github.com/logitest/attempt-service/internal/response"
	"github.com/logitest/attempt-service/internal/service"
	"github.com/logitest/attempt-service/internal/validator"
)

// classify maps a service error onto an HTTP status and API error code.
// Unknown errors are reported as internal.
func classify(err error) (int, response.ErrCode, map[string]string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err)
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden, nil
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound, nil
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict, response.ErrAttemptFinalized, nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, response.ErrAttemptInProgress, nil
	case errors.Is(err, service.ErrAlreadyCompleted):
		return http.StatusConflict, response.ErrAlreadyCompleted, nil
	case errors.Is(err, service.ErrResultsNotReady):
		return http.StatusConflict, response.ErrResultsNotReady, nil
	case errors.Is(err, service.ErrTestNotAvailable):
		return http.StatusUnprocessableEntity, response.ErrTestNotAvailable, nil
	}
	return http.StatusInternalServerError, response.ErrInternal, nil
}
