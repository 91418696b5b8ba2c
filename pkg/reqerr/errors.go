// Package reqerr defines the error taxonomy shared by the request orchestration
// packages. Every concrete type matches a package sentinel through errors.Is, so
// callers can branch on the category without type assertions:
//
//	if errors.Is(err, reqerr.ErrPartialFailure) { ... }
package reqerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrConfiguration is matched by ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is matched by ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrBackend is matched by BackendError.
	ErrBackend = errors.New("backend error")

	// ErrStatus is matched by StatusError.
	ErrStatus = errors.New("unexpected status code")

	// ErrProxy is matched by ProxyError.
	ErrProxy = errors.New("proxy error")

	// ErrRetryExhausted is matched by RetryExhaustedError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRateLimitExceeded is matched by RateLimitExceededError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrPartialFailure is matched by PartialFailureError.
	ErrPartialFailure = errors.New("partial failure")
)

// ConfigurationError reports an invalid setup: missing backend, a key/url
// count mismatch, or a session used outside its open scope. Never retried.
type ConfigurationError struct {
	Key     string
	Message string
}

// NewConfigurationError builds a ConfigurationError for the given config key.
func NewConfigurationError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("configuration error (%s): %s", e.Key, e.Message)
	}
	return "configuration error: " + e.Message
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports malformed input (URL, headers, proxy) detected
// before any network I/O.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "validation error: " + e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BackendError wraps a transport-level failure raised by a backend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: request failed: %v", e.Backend, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BackendError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %s from %s", status, e.URL)
}

// Is reports whether target is ErrStatus.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// ProxyError reports a proxy validation or connection problem.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy %s: %v", e.Proxy, e.Err)
	}
	return "proxy " + e.Proxy + ": failed"
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProxyError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProxy.
func (e *ProxyError) Is(target error) bool { return target == ErrProxy }

// RetryExhaustedError is returned once the retry budget of an operation is
// consumed. Attempts counts retries, not total calls.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
	URL      string
}

func (e *RetryExhaustedError) Error() string {
	msg := fmt.Sprintf("retry attempts exhausted after %d retries", e.Attempts)
	if e.URL != "" {
		msg += " for " + e.URL
	}
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// Is reports whether target is ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// RateLimitExceededError is returned when a limiter can never satisfy a request.
type RateLimitExceededError struct {
	Requested  int
	Burst      int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: requested %d tokens, burst is %d", e.Requested, e.Burst)
}

// Is reports whether target is ErrRateLimitExceeded.
func (e *RateLimitExceededError) Is(target error) bool { return target == ErrRateLimitExceeded }

// FailureDetails describes one failed item of a batch.
type FailureDetails struct {
	// Key is the explicit key of the item, or its decimal index when the
	// batch carried no keys.
	Key string

	// Index is the position of the item in the batch.
	Index int

	URL string
	Err error

	// Attempt is the number of retries performed before the item failed.
	Attempt int
}

// PartialFailureError is raised after a batch completes with at least one
// failed item while graceful degradation is off.
type PartialFailureError struct {
	Message   string
	Failures  map[string]FailureDetails
	Successes int
	Total     int
}

// NewPartialFailureError builds a PartialFailureError with the standard message.
func NewPartialFailureError(failures map[string]FailureDetails, successes, total int) *PartialFailureError {
	return &PartialFailureError{
		Message:   fmt.Sprintf("partial failure: %d of %d requests failed", len(failures), total),
		Failures:  failures,
		Successes: successes,
		Total:     total,
	}
}

func (e *PartialFailureError) Error() string {
	if len(e.Failures) == 0 {
		return e.Message
	}
	keys := e.FailedKeys()
	const maxListed = 3
	listed := keys
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	parts := make([]string, 0, len(listed))
	for _, k := range listed {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failures[k].Err))
	}
	msg := e.Message + " [" + strings.Join(parts, "; ")
	if len(keys) > maxListed {
		msg += fmt.Sprintf("; and %d more", len(keys)-maxListed)
	}
	return msg + "]"
}

// Is reports whether target is ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// FailedKeys returns the failure keys ordered by batch position.
func (e *PartialFailureError) FailedKeys() []string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return e.Failures[keys[i]].Index < e.Failures[keys[j]].Index
	})
	return keys
}
