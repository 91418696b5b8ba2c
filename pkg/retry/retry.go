// Package retry wraps arbitrary operations with bounded exponential backoff
// and jitter. The strategy knows nothing about HTTP; the client uses it to wrap
// a single backend call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preq_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preq_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preq_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total calls = MaxRetries + 1.
	MaxRetries int

	// BackoffMultiplier is the base delay. Retry a (0-indexed) waits
	// BackoffMultiplier * 2^a before jitter.
	BackoffMultiplier time.Duration

	// Jitter is the fraction of the delay used as a uniform ± band.
	Jitter float64

	// RetryOn, when non-empty, restricts retries to errors matching one of
	// its matchers.
	RetryOn []Matcher

	// DontRetryOn lists errors that are returned immediately. It takes
	// precedence over RetryOn.
	DontRetryOn []Matcher
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BackoffMultiplier: 1 * time.Second,
		Jitter:            0.1,
		DontRetryOn:       DefaultNonRetryable(),
	}
}

// Strategy executes operations with retry.
type Strategy struct {
	config Config
	logger zerolog.Logger
	rng    func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewStrategy creates a Strategy. Negative MaxRetries and Jitter are clamped
// to zero.
func NewStrategy(cfg Config, logger zerolog.Logger) *Strategy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Strategy{
		config: cfg,
		logger: logger,
		rng:    rand.Float64,
		sleep:  sleepContext,
	}
}

// Config returns the strategy configuration.
func (s *Strategy) Config() Config { return s.config }

// Operation is a retryable unit of work. attempt is 0 for the first call.
type Operation func(ctx context.Context, attempt int) error

// Execute runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is consumed. Non-retryable errors are returned unchanged; an
// exhausted budget yields a *reqerr.RetryExhaustedError carrying the last error.
func (s *Strategy) Execute(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				s.logger.Debug().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errClass := reqerr.Classify(err)

		if !s.ShouldRetry(err) {
			s.logger.Debug().
				Err(err).
				Str("error_class", string(errClass)).
				Msg("Error is not retryable")
			return err
		}

		if attempt >= s.config.MaxRetries {
			break
		}

		delay := s.Delay(attempt)
		retriesTotal.WithLabelValues(string(errClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errClass)).Observe(delay.Seconds())

		s.logger.Debug().
			Err(err).
			Str("error_class", string(errClass)).
			Int("retry", attempt+1).
			Int("max_retries", s.config.MaxRetries).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		if err := s.sleep(ctx, delay); err != nil {
			s.logger.Warn().
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("retry backoff: %w (last error: %v)", err, lastErr)
		}
	}

	errClass := reqerr.Classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	s.logger.Warn().
		Err(lastErr).
		Str("error_class", string(errClass)).
		Int("max_retries", s.config.MaxRetries).
		Msg("Retry attempts exhausted")

	return &reqerr.RetryExhaustedError{
		Attempts: s.config.MaxRetries,
		LastErr:  lastErr,
	}
}

// Do runs op through s and returns its value.
func Do[T any](ctx context.Context, s *Strategy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := s.Execute(ctx, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// ShouldRetry classifies err against the deny and allow lists.
func (s *Strategy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if matchAny(s.config.DontRetryOn, err) {
		return false
	}
	if len(s.config.RetryOn) > 0 {
		return matchAny(s.config.RetryOn, err)
	}
	return true
}

// Delay returns the jittered backoff for the 0-indexed retry attempt:
// BackoffMultiplier * 2^attempt ± uniform(0, Jitter * delay), clamped at zero.
func (s *Strategy) Delay(attempt int) time.Duration {
	base := float64(s.config.BackoffMultiplier) * math.Pow(2, float64(attempt))
	band := s.config.Jitter * base
	jittered := base + (s.rng()*2-1)*band
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Matcher reports whether an error belongs to a category.
type Matcher func(error) bool

// Is matches errors for which errors.Is(err, target) holds.
func Is(target error) Matcher {
	return func(err error) bool { return errors.Is(err, target) }
}

// As matches errors whose chain contains a value of type E.
func As[E error]() Matcher {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// StatusCodes matches *reqerr.StatusError values with one of the given codes.
func StatusCodes(codes ...int) Matcher {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(err error) bool {
		var statusErr *reqerr.StatusError
		if !errors.As(err, &statusErr) {
			return false
		}
		_, ok := set[statusErr.StatusCode]
		return ok
	}
}

// DefaultNonRetryable returns the matchers for errors never worth retrying:
// configuration and validation errors, limiter refusals, and cancellation.
func DefaultNonRetryable() []Matcher {
	return []Matcher{
		Is(reqerr.ErrConfiguration),
		Is(reqerr.ErrValidation),
		Is(reqerr.ErrRateLimitExceeded),
		Is(context.Canceled),
	}
}

func matchAny(matchers []Matcher, err error) bool {
	for _, m := range matchers {
		if m != nil && m(err) {
			return true
		}
	}
	return false
}
