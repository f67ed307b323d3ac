package fetch

import (
	"errors"
	"fmt"
)

// Fetch outcomes are classified into two buckets: transient failures that a
// retry policy may try again (timeouts, 5xx, connection resets, truncated
// bodies) and permanent failures that retrying cannot fix (4xx, malformed
// URLs). Exhausting the retry budget yields an ExhaustedError wrapping the
// last transient cause.

// TransientError marks a retryable fetch failure.
type TransientError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient fetch error for %s (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("transient fetch error for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a fetch failure that no retry can recover.
type PermanentError struct {
	URL    string
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("permanent fetch error for %s (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("permanent fetch error for %s: %v", e.URL, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError is returned after the retry budget runs out. It wraps the
// last underlying error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// errStatus underlies status-code classifications so wrapped errors always
// carry a non-nil cause.
var errStatus = errors.New("unexpected HTTP status code")

// errTruncated marks a body shorter or longer than the declared Content-Length.
var errTruncated = errors.New("body length does not match Content-Length")

// errEmptyBody marks a successful response with no bytes.
var errEmptyBody = errors.New("empty response body")

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a non-retryable fetch failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
