package domain

import "errors"

var (
	// ErrScanNotFound is returned when a scan cannot be found in the database
	ErrScanNotFound = errors.New("scan not found")

	// ErrScanAlreadyClaimed is returned when a delivery arrives for a scan
	// that another worker already claimed or finished. Duplicate deliveries
	// land here and are dropped, which keeps consumption idempotent.
	ErrScanAlreadyClaimed = errors.New("scan already claimed or finished")

	// ErrInvalidPayload is returned when a delivery body is not a valid scan job
	ErrInvalidPayload = errors.New("invalid scan job payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
