package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/rs/zerolog"
)

var errTransient = errors.New("transient")

func fastConfig(maxRetries int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.BackoffMultiplier = time.Millisecond
	cfg.Jitter = 0
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.BackoffMultiplier != time.Second {
		t.Errorf("BackoffMultiplier = %v, want 1s", cfg.BackoffMultiplier)
	}
	if cfg.Jitter != 0.1 {
		t.Errorf("Jitter = %v, want 0.1", cfg.Jitter)
	}
	if len(cfg.DontRetryOn) == 0 {
		t.Error("DontRetryOn should carry the default non-retryable matchers")
	}
}

func TestExecute_Success(t *testing.T) {
	s := NewStrategy(fastConfig(3), zerolog.Nop())

	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	s := NewStrategy(fastConfig(3), zerolog.Nop())

	var attempts []int
	err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fmt.Sprint(attempts) != "[0 1 2]" {
		t.Errorf("attempts = %v, want [0 1 2]", attempts)
	}
}

func TestExecute_Exhausted(t *testing.T) {
	s := NewStrategy(fastConfig(2), zerolog.Nop())

	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}

	var exhausted *reqerr.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", exhausted.Attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Error("exhausted error should wrap the last error")
	}
	if !errors.Is(err, reqerr.ErrRetryExhausted) {
		t.Error("exhausted error should match ErrRetryExhausted")
	}
}

func TestExecute_ZeroRetries(t *testing.T) {
	s := NewStrategy(fastConfig(0), zerolog.Nop())

	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, reqerr.ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
}

func TestExecute_NonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: reqerr.NewValidationError("url", "missing scheme")},
		{name: "configuration", err: reqerr.NewConfigurationError("backend", "unknown")},
		{name: "cancelled", err: fmt.Errorf("request: %w", context.Canceled)},
		{name: "over burst", err: &reqerr.RateLimitExceededError{Requested: 5, Burst: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStrategy(fastConfig(5), zerolog.Nop())

			calls := 0
			err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if err != tt.err {
				t.Errorf("Execute() error = %v, want original %v", err, tt.err)
			}
		})
	}
}

func TestExecute_RetryOnAllowList(t *testing.T) {
	cfg := fastConfig(3)
	cfg.RetryOn = []Matcher{Is(errTransient)}
	s := NewStrategy(cfg, zerolog.Nop())

	other := errors.New("permanent")
	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return other
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for error outside RetryOn", calls)
	}
	if err != other {
		t.Errorf("Execute() error = %v, want %v", err, other)
	}

	calls = 0
	_ = s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4 for error in RetryOn", calls)
	}
}

func TestExecute_DenyListWinsOverAllowList(t *testing.T) {
	cfg := fastConfig(3)
	cfg.RetryOn = []Matcher{Is(errTransient)}
	cfg.DontRetryOn = []Matcher{Is(errTransient)}
	s := NewStrategy(cfg, zerolog.Nop())

	calls := 0
	_ = s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig(5)
	cfg.BackoffMultiplier = time.Second
	s := NewStrategy(cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	calls := 0
	err := s.Execute(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Execute() took %v after cancellation, backoff should be interrupted", elapsed)
	}
}

func TestDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter = 0
	s := NewStrategy(cfg, zerolog.Nop())

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if got := s.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelay_JitterBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter = 0.1
	s := NewStrategy(cfg, zerolog.Nop())

	for i := 0; i < 200; i++ {
		got := s.Delay(1)
		if got < 1800*time.Millisecond || got > 2200*time.Millisecond {
			t.Fatalf("Delay(1) = %v, outside [1.8s, 2.2s]", got)
		}
	}

	// Extremes of the random source map to the band edges.
	s.rng = func() float64 { return 0 }
	if got := s.Delay(0); got != 900*time.Millisecond {
		t.Errorf("Delay(0) with rng=0 = %v, want 900ms", got)
	}
	s.rng = func() float64 { return 1 }
	if got := s.Delay(0); got != 1100*time.Millisecond {
		t.Errorf("Delay(0) with rng=1 = %v, want 1.1s", got)
	}
}

func TestDelay_NeverNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter = 3
	s := NewStrategy(cfg, zerolog.Nop())
	s.rng = func() float64 { return 0 }

	if got := s.Delay(0); got != 0 {
		t.Errorf("Delay(0) with jitter beyond the delay = %v, want 0", got)
	}
}

func TestExecute_UsesComputedBackoff(t *testing.T) {
	cfg := fastConfig(3)
	cfg.BackoffMultiplier = 10 * time.Millisecond
	s := NewStrategy(cfg, zerolog.Nop())

	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_ = s.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		return errTransient
	})

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Errorf("backoffs = %v, want %v", slept, want)
	}
}

func TestDo(t *testing.T) {
	s := NewStrategy(fastConfig(2), zerolog.Nop())

	got, err := Do(context.Background(), s, func(ctx context.Context, attempt int) (string, error) {
		if attempt == 0 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want ok", got)
	}
}

func TestMatchers(t *testing.T) {
	statusErr := &reqerr.StatusError{StatusCode: 503, URL: "http://x"}
	wrapped := fmt.Errorf("attempt: %w", statusErr)

	if !As[*reqerr.StatusError]()(wrapped) {
		t.Error("As should match wrapped *StatusError")
	}
	if As[*reqerr.ProxyError]()(wrapped) {
		t.Error("As should not match unrelated type")
	}
	if !StatusCodes(502, 503)(wrapped) {
		t.Error("StatusCodes should match 503")
	}
	if StatusCodes(404)(wrapped) {
		t.Error("StatusCodes should not match 404")
	}
	if !Is(reqerr.ErrStatus)(wrapped) {
		t.Error("Is should match ErrStatus sentinel")
	}
}
