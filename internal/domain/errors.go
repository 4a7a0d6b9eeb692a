package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyMessages indicates a chat request with no message history
	ErrEmptyMessages = fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
)

// ProviderError is any transport or API-level failure from an external
// provider, tagged with enough context for the caller to decide whether the
// failure is recoverable. Wrappers never retry; retry policy belongs to the
// caller.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError wrapping the underlying cause.
func NewProviderError(provider string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Message: message, Err: err}
}

// IsProviderError reports whether err is a tagged provider failure.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
