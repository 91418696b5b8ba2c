package testutil

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
)

// FakeHandler produces the outcome of one fake request.
type FakeHandler func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error)

// FakeBackend is an in-memory backend.Backend for orchestrator tests.
type FakeBackend struct {
	mu       sync.Mutex
	handlers map[string]FakeHandler
	fallback FakeHandler
	calls    map[string]int
	configs  []backend.RequestConfig

	opened  atomic.Int32
	closed  atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

// NewFakeBackend returns a fake answering every URL with {"ok": true}.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		handlers: make(map[string]FakeHandler),
		calls:    make(map[string]int),
		fallback: func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
			return JSONResponse(http.StatusOK, `{"ok": true}`, cfg.URL), nil
		},
	}
}

// Handle registers the outcome for url.
func (f *FakeBackend) Handle(url string, h FakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[url] = h
}

// HandleDefault replaces the fallback handler.
func (f *FakeBackend) HandleDefault(h FakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = h
}

// Name implements backend.Backend.
func (f *FakeBackend) Name() string { return "fake" }

// Open implements backend.Backend.
func (f *FakeBackend) Open(ctx context.Context) error {
	f.opened.Add(1)
	return nil
}

// Close implements backend.Backend.
func (f *FakeBackend) Close() error {
	f.closed.Add(1)
	return nil
}

// SupportsHTTP2 implements backend.Backend.
func (f *FakeBackend) SupportsHTTP2() bool { return false }

// Request implements backend.Backend.
func (f *FakeBackend) Request(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[cfg.URL]++
	f.configs = append(f.configs, cfg)
	h, ok := f.handlers[cfg.URL]
	if !ok {
		h = f.fallback
	}
	f.mu.Unlock()

	return h(ctx, cfg)
}

// Calls returns the number of requests made for url.
func (f *FakeBackend) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// Configs returns every request config received, in arrival order.
func (f *FakeBackend) Configs() []backend.RequestConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.RequestConfig(nil), f.configs...)
}

// Opened returns how often Open was called.
func (f *FakeBackend) Opened() int { return int(f.opened.Load()) }

// Closed returns how often Close was called.
func (f *FakeBackend) Closed() int { return int(f.closed.Load()) }

// MaxConcurrent returns the highest number of simultaneous requests observed.
func (f *FakeBackend) MaxConcurrent() int { return int(f.maxSeen.Load()) }

// JSONResponse builds a normalized JSON response.
func JSONResponse(status int, body, url string) *backend.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return backend.NewResponse(status, h, []byte(body), url)
}

// TextResponse builds a normalized plain text response.
func TextResponse(status int, body, url string) *backend.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return backend.NewResponse(status, h, []byte(body), url)
}

// Delayed wraps h with a context-aware sleep.
func Delayed(d time.Duration, h FakeHandler) FakeHandler {
	return func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, backend.Wrap("fake", ctx.Err())
		}
		return h(ctx, cfg)
	}
}

// Status answers with an empty body and the given status.
func Status(code int) FakeHandler {
	return func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
		return TextResponse(code, "", cfg.URL), nil
	}
}

// Fail answers with a transport error.
func Fail(err error) FakeHandler {
	return func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
		return nil, backend.Wrap("fake", err)
	}
}

// JSON answers 200 with body.
func JSON(body string) FakeHandler {
	return func(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
		return JSONResponse(http.StatusOK, body, cfg.URL), nil
	}
}
