// Package client provides the parallel request orchestrator: a session that
// fans a batch of HTTP requests out under a concurrency cap and an optional
// token bucket, retries each item with exponential backoff and collects the
// outcomes in input order.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	_ "github.com/Sternrassler/go-parallel-requests/pkg/backend/collybackend" // registers "colly"
	_ "github.com/Sternrassler/go-parallel-requests/pkg/backend/nethttp"     // registers "nethttp"
	"github.com/Sternrassler/go-parallel-requests/pkg/cache"
	"github.com/Sternrassler/go-parallel-requests/pkg/headers"
	"github.com/Sternrassler/go-parallel-requests/pkg/proxy"
	"github.com/Sternrassler/go-parallel-requests/pkg/ratelimit"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/Sternrassler/go-parallel-requests/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for orchestrator operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preq_requests_total",
		Help: "Total backend requests by backend and status",
	}, []string{"backend", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preq_request_duration_seconds",
		Help:    "Backend request duration in seconds by backend",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"backend"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preq_errors_total",
		Help: "Total failed items by error class",
	}, []string{"class"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preq_batches_total",
		Help: "Total batches by outcome",
	}, []string{"outcome"}) // "success", "partial", "degraded"

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preq_batch_size",
		Help:    "Number of items per batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

type state int

const (
	stateUninitialized state = iota
	stateOpen
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "uninitialized"
}

// Client is a parallel request session. Create it with New, call Open before
// issuing requests and Close when done. A closed client cannot be reopened.
type Client struct {
	config  Config
	backend backend.Backend
	limiter *ratelimit.Limiter
	retry   *retry.Strategy
	headers *headers.Manager
	proxies *proxy.Manager // nil when rotation is off
	logger  zerolog.Logger

	mu      sync.RWMutex
	state   state
	cookies map[string]string
}

// New validates cfg, selects the backend and loads the proxy and user-agent
// pools. ctx bounds the remote list fetches.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "parallel-requests").Logger()

	b := cfg.Impl
	if b == nil {
		var err error
		b, err = backend.Default().New(cfg.Backend, backend.Options{
			HTTP2:           cfg.HTTP2,
			FollowRedirects: cfg.FollowRedirects,
			VerifySSL:       cfg.VerifySSL,
			Timeout:         cfg.Timeout,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.Cache != nil {
		b = cache.NewBackend(b, cfg.Cache, cache.DefaultConfig(), logger)
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit,
		Burst:             cfg.RateLimitBurst,
		MaxConcurrency:    cfg.Concurrency,
	}, logger.With().Str("component", "ratelimit").Logger())
	if err != nil {
		return nil, err
	}

	strategy := retry.NewStrategy(retry.Config{
		MaxRetries:        cfg.MaxRetries,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Jitter:            cfg.Jitter,
		RetryOn:           cfg.RetryOn,
		DontRetryOn:       append(retry.DefaultNonRetryable(), cfg.DontRetryOn...),
	}, logger.With().Str("component", "retry").Logger())

	headerManager := headers.NewManager(ctx, headers.Config{
		RandomUserAgent: cfg.RandomUserAgent,
		UserAgents:      cfg.UserAgents,
		EnvUserAgents:   cfg.EnvUserAgents,
		RemoteURL:       cfg.UserAgentsURL,
		CustomUserAgent: cfg.CustomUserAgent,
	}, logger.With().Str("component", "headers").Logger())

	var proxies *proxy.Manager
	if cfg.RandomProxy {
		proxies, err = proxy.NewManager(ctx, cfg.Proxy, logger.With().Str("component", "proxy").Logger())
		if err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		if proxies.Count() == 0 {
			logger.Warn().Msg("Proxy rotation enabled but no valid proxies loaded")
		}
	}

	cookies := make(map[string]string, len(cfg.Cookies))
	for k, v := range cfg.Cookies {
		cookies[k] = v
	}

	logger.Info().
		Str("backend", b.Name()).
		Int("concurrency", cfg.Concurrency).
		Float64("rate_limit", cfg.RateLimit).
		Int("max_retries", cfg.MaxRetries).
		Bool("random_proxy", proxies != nil).
		Msg("Client created")

	return &Client{
		config:  cfg,
		backend: b,
		limiter: limiter,
		retry:   strategy,
		headers: headerManager,
		proxies: proxies,
		logger:  logger,
		cookies: cookies,
	}, nil
}

// Open acquires the backend's transport resources. Opening an open client is
// a no-op.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateOpen:
		return nil
	case stateClosed:
		return reqerr.NewConfigurationError("session", "client is closed and cannot be reopened")
	}

	if err := c.backend.Open(ctx); err != nil {
		return fmt.Errorf("open backend %s: %w", c.backend.Name(), err)
	}
	c.state = stateOpen
	c.logger.Debug().Str("backend", c.backend.Name()).Msg("Session opened")
	return nil
}

// Close releases the backend. It is idempotent and safe to defer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		c.state = stateClosed
		return nil
	}
	c.state = stateClosed

	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("close backend %s: %w", c.backend.Name(), err)
	}
	c.logger.Debug().Msg("Session closed")
	return nil
}

// Backend returns the active backend.
func (c *Client) Backend() backend.Backend { return c.backend }

// Proxies returns the proxy pool, or nil when rotation is off.
func (c *Client) Proxies() *proxy.Manager { return c.proxies }

// Headers returns the header manager.
func (c *Client) Headers() *headers.Manager { return c.headers }

// SetCookies merges cookies into the session cookies.
func (c *Client) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range cookies {
		c.cookies[k] = v
	}
}

// ResetCookies drops all session cookies, including those from Config.
func (c *Client) ResetCookies() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = make(map[string]string)
}

// Cookies returns a copy of the session cookies.
func (c *Client) Cookies() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	s := c.state
	c.mu.RUnlock()
	if s != stateOpen {
		return reqerr.NewConfigurationError("session", "client is %s, call Open first", s)
	}
	return nil
}

// Run opens a client, executes one batch and closes it.
func Run(ctx context.Context, cfg Config, urls []string, opts Options) (*Result, error) {
	c, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	defer c.Close()

	return c.Request(ctx, urls, opts)
}
