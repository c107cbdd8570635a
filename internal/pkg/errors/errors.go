package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is a generic sentinel for tenant/access failures.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState signals an operation attempted on a job outside its
	// expected precondition status.
	ErrInvalidState = errors.New("invalid job state")
	// ErrStaleTransition signals a compare-and-swap status write that lost
	// to a concurrent run of the same job.
	ErrStaleTransition = errors.New("stale job transition")
	// ErrMissingAsset signals a referenced plan file absent in blob storage.
	ErrMissingAsset = errors.New("missing asset")
)

// AIServiceError wraps a failed generative-AI call: non-2xx response,
// timeout, or output that did not conform to the requested schema.
type AIServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AIServiceError) Error() string {
	if e == nil {
		return "ai service error"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai service error (http %d): %s", e.StatusCode, e.Message)
	}
	if e.Message != "" {
		return "ai service error: " + e.Message
	}
	if e.Err != nil {
		return "ai service error: " + e.Err.Error()
	}
	return "ai service error"
}

func (e *AIServiceError) Unwrap() error { return e.Err }
