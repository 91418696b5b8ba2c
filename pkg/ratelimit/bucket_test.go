package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
)

func TestNewTokenBucket_Validation(t *testing.T) {
	tests := []struct {
		name        string
		rate        float64
		burst       int
		expectError bool
	}{
		{name: "valid", rate: 10, burst: 5},
		{name: "fractional rate", rate: 0.5, burst: 1},
		{name: "zero rate", rate: 0, burst: 5, expectError: true},
		{name: "negative rate", rate: -1, burst: 5, expectError: true},
		{name: "zero burst", rate: 10, burst: 0, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, err := NewTokenBucket(tt.rate, tt.burst)
			if tt.expectError {
				if !errors.Is(err, reqerr.ErrConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket.Burst() != tt.burst || bucket.Rate() != tt.rate {
				t.Errorf("bucket = (%v, %d), want (%v, %d)", bucket.Rate(), bucket.Burst(), tt.rate, tt.burst)
			}
		})
	}
}

func TestTokenBucket_StartsFull(t *testing.T) {
	bucket, err := NewTokenBucket(10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got := bucket.Available(); got < 4.99 || got > 5 {
		t.Errorf("Available() = %v, want 5", got)
	}
}

func TestTokenBucket_RefillIsBoundedByBurst(t *testing.T) {
	bucket, err := NewTokenBucket(10, 5)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Drain the bucket
	if err := bucket.Acquire(ctx, 5); err != nil {
		t.Fatalf("Acquire(5) error = %v", err)
	}
	if got := bucket.Available(); got > 0.5 {
		t.Errorf("Available() after drain = %v, want ~0", got)
	}

	time.Sleep(200 * time.Millisecond)

	got := bucket.Available()
	if got < 1 || got > 2.5 {
		t.Errorf("Available() after 200ms = %v, want between 1 and 2", got)
	}

	time.Sleep(700 * time.Millisecond)
	if got := bucket.Available(); got > 5 {
		t.Errorf("Available() = %v, must never exceed burst 5", got)
	}
}

func TestTokenBucket_AcquireWaitsForRefill(t *testing.T) {
	bucket, err := NewTokenBucket(20, 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := bucket.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// First token is free, the next two need ~50ms each.
	if elapsed < 80*time.Millisecond {
		t.Errorf("3 acquisitions took %v, expected at least ~100ms", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("3 acquisitions took %v, expected well under 1s", elapsed)
	}
}

func TestTokenBucket_ConcurrentAcquirers(t *testing.T) {
	bucket, err := NewTokenBucket(50, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bucket.Acquire(ctx, 1); err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// 2 burst tokens + 5 refilled at 50/s = at least ~100ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("7 concurrent acquisitions took %v, expected at least ~100ms", elapsed)
	}
	if got := bucket.Available(); got < 0 {
		t.Errorf("Available() = %v, bucket went negative", got)
	}
}

func TestTokenBucket_AcquireMoreThanBurst(t *testing.T) {
	bucket, err := NewTokenBucket(10, 3)
	if err != nil {
		t.Fatal(err)
	}

	err = bucket.Acquire(context.Background(), 4)
	var rlErr *reqerr.RateLimitExceededError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if rlErr.Requested != 4 || rlErr.Burst != 3 {
		t.Errorf("error = %+v, want Requested=4 Burst=3", rlErr)
	}
}

func TestTokenBucket_AcquireContextCancelled(t *testing.T) {
	bucket, err := NewTokenBucket(0.1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := bucket.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = bucket.Acquire(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
