package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks readings rejected before any stage ran.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict is returned once commit retries are exhausted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrPersistence marks a failed durable commit; nothing was written.
	ErrPersistence = errors.New("persistence failure")
	// ErrPropagation marks a failed cache or event delivery after commit.
	ErrPropagation = errors.New("propagation failure")

	// ErrStateNotFound is returned by stores for unknown assets.
	ErrStateNotFound = errors.New("state not found")
	// ErrVersionConflict is returned by stores when the expected version is stale.
	ErrVersionConflict = errors.New("version conflict")
	// ErrStoreUnavailable is returned by stores that cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FieldError describes one rejected field of a reading.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every problem found in a reading.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsRetryable reports whether the caller may resubmit the same reading.
// Conflicts and persistence failures never leave partial writes behind.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrPersistence)
}
