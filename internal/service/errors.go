package service

import (
	"errors"
	"fmt"

	"github.com/logitest/attempt-service/internal/repository"
)

// Attempt errors. Handlers map these to HTTP status codes.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("access to this attempt is not allowed")
	ErrInvalidState     = errors.New("attempt is no longer in progress")
	ErrConflict         = errors.New("an attempt for this test is already in progress")
	ErrValidation       = errors.New("validation failed")
	ErrTestNotAvailable = errors.New("test is not available")
	ErrAlreadyCompleted = errors.New("test has already been completed")
	ErrResultsNotReady  = errors.New("results are available once the attempt is finalized")
)

// translate maps storage errors onto the service taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrAttemptNotInProgress):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return err
}
