package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for limiter activity.
var (
	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preq_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a concurrency slot and rate limit token",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	limiterInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preq_requests_in_flight",
		Help: "Number of requests currently holding a concurrency slot",
	})
)

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the token refill rate. Zero disables rate limiting
	// and leaves only the concurrency cap.
	RequestsPerSecond float64

	// Burst is the token bucket capacity.
	Burst int

	// MaxConcurrency is the number of callers allowed inside the critical
	// section at once.
	MaxConcurrency int
}

// DefaultConfig returns the default limiter configuration: no rate limit,
// burst 5, 20 concurrent slots.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Burst:             5,
		MaxConcurrency:    20,
	}
}

// Limiter combines a token bucket with a concurrency semaphore.
type Limiter struct {
	config Config
	bucket *TokenBucket
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// NewLimiter creates a Limiter from cfg.
func NewLimiter(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, reqerr.NewConfigurationError("concurrency", "concurrency must be > 0 (got %d)", cfg.MaxConcurrency)
	}

	l := &Limiter{
		config: cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logger,
	}

	if cfg.RequestsPerSecond > 0 {
		bucket, err := NewTokenBucket(cfg.RequestsPerSecond, cfg.Burst)
		if err != nil {
			return nil, err
		}
		l.bucket = bucket
	}

	return l, nil
}

// Acquire waits for a concurrency slot and then for one token. The returned
// release function frees the slot and must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire concurrency slot: %w", err)
	}

	if l.bucket != nil {
		l.logger.Debug().
			Float64("available", l.bucket.Available()).
			Msg("Rate limiter acquiring token")

		if err := l.bucket.Acquire(ctx, 1); err != nil {
			l.sem.Release(1)
			return nil, err
		}
	}

	if waited := time.Since(start); waited > time.Millisecond {
		limiterWaitSeconds.Observe(waited.Seconds())
	}
	limiterInFlight.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			limiterInFlight.Dec()
			l.sem.Release(1)
		})
	}, nil
}

// Available returns the tokens currently in the bucket, or -1 when rate
// limiting is disabled.
func (l *Limiter) Available() float64 {
	if l.bucket == nil {
		return -1
	}
	return l.bucket.Available()
}

// RateLimited reports whether a token bucket is configured.
func (l *Limiter) RateLimited() bool { return l.bucket != nil }

// MaxConcurrency returns the configured concurrency cap.
func (l *Limiter) MaxConcurrency() int { return l.config.MaxConcurrency }
