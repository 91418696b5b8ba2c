package reqerr

import (
	"context"
	"errors"
	"net/http"
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local limiter refusals.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport, proxy and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassValidation represents configuration and input errors.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassCanceled represents context cancellation.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassUnknown is used for errors without a known category.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Classify categorizes an error for observability.
func Classify(err error) ErrorClass {
	var statusErr *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrorClassCanceled
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRateLimit
		case statusErr.StatusCode >= 500:
			return ErrorClassServer
		default:
			return ErrorClassClient
		}
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorClassRateLimit
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return ErrorClassValidation
	case errors.Is(err, ErrBackend), errors.Is(err, ErrProxy), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassNetwork
	default:
		return ErrorClassUnknown
	}
}
