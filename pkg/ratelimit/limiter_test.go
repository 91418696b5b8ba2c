package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerSecond != 0 {
		t.Errorf("RequestsPerSecond = %v, want 0", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 5 {
		t.Errorf("Burst = %d, want 5", cfg.Burst)
	}
	if cfg.MaxConcurrency != 20 {
		t.Errorf("MaxConcurrency = %d, want 20", cfg.MaxConcurrency)
	}
}

func TestNewLimiter_Validation(t *testing.T) {
	logger := zerolog.Nop()

	if _, err := NewLimiter(Config{MaxConcurrency: 0}, logger); !errors.Is(err, reqerr.ErrConfiguration) {
		t.Errorf("zero concurrency: expected configuration error, got %v", err)
	}
	if _, err := NewLimiter(Config{MaxConcurrency: 1, RequestsPerSecond: 5, Burst: 0}, logger); !errors.Is(err, reqerr.ErrConfiguration) {
		t.Errorf("zero burst: expected configuration error, got %v", err)
	}

	l, err := NewLimiter(Config{MaxConcurrency: 3}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.RateLimited() {
		t.Error("limiter without rate should not be rate limited")
	}
	if l.Available() != -1 {
		t.Errorf("Available() = %v, want -1 without bucket", l.Available())
	}
	if l.MaxConcurrency() != 3 {
		t.Errorf("MaxConcurrency() = %d, want 3", l.MaxConcurrency())
	}
}

func TestLimiter_ConcurrencyCap(t *testing.T) {
	l, err := NewLimiter(Config{MaxConcurrency: 2}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive > 2 {
		t.Errorf("max concurrently active = %d, want <= 2", maxActive)
	}
	if maxActive < 1 {
		t.Errorf("max concurrently active = %d, expected activity", maxActive)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	l, err := NewLimiter(Config{MaxConcurrency: 10, RequestsPerSecond: 20, Burst: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		release()
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 rate limited acquisitions took %v, expected at least ~100ms", elapsed)
	}
}

func TestLimiter_ReleaseIsIdempotent(t *testing.T) {
	l, err := NewLimiter(Config{MaxConcurrency: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()

	// A double release must not leave two slots behind.
	first, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Error("second Acquire() should block on a single-slot limiter")
	}
}

func TestLimiter_AcquireCancelledFreesSlot(t *testing.T) {
	l, err := NewLimiter(Config{MaxConcurrency: 1, RequestsPerSecond: 0.1, Burst: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()

	// Bucket is empty now; the wait for a token is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire() should fail when the token wait is cancelled")
	}

	// The slot taken before the token wait must have been returned.
	if !l.sem.TryAcquire(1) {
		t.Error("concurrency slot leaked after cancelled token wait")
	}
}
