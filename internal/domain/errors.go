package domain

import "errors"

// Errors shared by the search, thread and pipeline layers.
var (
	// ErrInvalidInput indicates malformed arguments, such as an embedding
	// whose dimensionality does not match the store
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates missing or invalid search/thread policy
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreUnavailable indicates a transient storage or network failure
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether err is worth retrying.
// Only store failures are; bad input and bad configuration never heal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}
