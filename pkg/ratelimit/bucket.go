// Package ratelimit implements client-side request throttling: a token bucket
// that enforces a steady request rate with bursts, and a Limiter that pairs the
// bucket with a concurrency cap.
//
// Refill is lazy. Tokens are recomputed from elapsed wall-clock time whenever
// the bucket is touched; no background goroutine is involved.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"golang.org/x/time/rate"
)

// TokenBucket is a rate limiter allowing bursts up to a cap while enforcing a
// steady-state rate. It is safe for concurrent use.
type TokenBucket struct {
	limiter *rate.Limiter
	rate    float64
	burst   int
}

// NewTokenBucket creates a full bucket refilling at requestsPerSecond tokens
// per second and holding at most burst tokens.
func NewTokenBucket(requestsPerSecond float64, burst int) (*TokenBucket, error) {
	if requestsPerSecond <= 0 {
		return nil, reqerr.NewConfigurationError("rate_limit", "rate must be > 0 (got %v)", requestsPerSecond)
	}
	if burst < 1 {
		return nil, reqerr.NewConfigurationError("rate_limit_burst", "burst must be >= 1 (got %d)", burst)
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		rate:    requestsPerSecond,
		burst:   burst,
	}, nil
}

// Rate returns the refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 { return b.rate }

// Burst returns the bucket capacity.
func (b *TokenBucket) Burst() int { return b.burst }

// Available returns the current token count after refilling. It never
// consumes tokens.
func (b *TokenBucket) Available() float64 {
	tokens := b.limiter.Tokens()
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Acquire takes n tokens, waiting for the refill when the bucket holds fewer.
// The check is repeated after every wait because concurrent acquirers contend
// for the same tokens. Tokens are only deducted when enough are present, so
// the bucket never goes negative.
func (b *TokenBucket) Acquire(ctx context.Context, n int) error {
	if n < 1 {
		return nil
	}
	if n > b.burst {
		return &reqerr.RateLimitExceededError{Requested: n, Burst: b.burst}
	}

	for {
		if b.limiter.AllowN(time.Now(), n) {
			return nil
		}

		wait := b.waitFor(n)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("token bucket wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// waitFor computes how long the refill needs to cover a deficit of n tokens.
func (b *TokenBucket) waitFor(n int) time.Duration {
	deficit := float64(n) - b.Available()
	if deficit <= 0 {
		return time.Millisecond
	}
	wait := time.Duration(deficit / b.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
