package client

import (
	"net/url"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/Sternrassler/go-parallel-requests/pkg/cache"
	"github.com/Sternrassler/go-parallel-requests/pkg/proxy"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/Sternrassler/go-parallel-requests/pkg/retry"
	"github.com/rs/zerolog"
)

// ReturnType selects how a successful response becomes a result value.
type ReturnType string

const (
	// ReturnJSON yields the decoded JSON body, or nil for non-JSON responses.
	ReturnJSON ReturnType = "json"

	// ReturnText yields the decoded text body.
	ReturnText ReturnType = "text"

	// ReturnContent yields the raw body bytes.
	ReturnContent ReturnType = "content"

	// ReturnResponse yields the *backend.Response itself.
	ReturnResponse ReturnType = "response"

	// ReturnStream hands the body to Options.StreamCallback and yields nil.
	ReturnStream ReturnType = "stream"
)

// Valid reports whether r is a known return type.
func (r ReturnType) Valid() bool {
	switch r {
	case ReturnJSON, ReturnText, ReturnContent, ReturnResponse, ReturnStream:
		return true
	}
	return false
}

// Config holds the client configuration.
type Config struct {
	// Backend names the transport: "auto" or a registered name
	// ("nethttp", "colly").
	Backend string

	// Impl, when set, is used instead of a registry lookup.
	Impl backend.Backend

	// Concurrency caps in-flight requests.
	Concurrency int

	// Retry
	MaxRetries        int
	BackoffMultiplier time.Duration
	Jitter            float64
	RetryOn           []retry.Matcher
	DontRetryOn       []retry.Matcher // merged with retry.DefaultNonRetryable

	// Rate limiting. RateLimit is requests per second, 0 disables it.
	RateLimit      float64
	RateLimitBurst int

	// Transport
	HTTP2           bool
	FollowRedirects bool
	VerifySSL       bool
	Timeout         time.Duration // 0 = no timeout

	// Cookies are sent with every request.
	Cookies map[string]string

	// User agents. UserAgents wins over EnvUserAgents, which is the list
	// loaded from USER_AGENTS.
	RandomUserAgent bool
	UserAgents      []string
	EnvUserAgents   []string
	UserAgentsURL   string
	CustomUserAgent string

	// Proxies
	RandomProxy bool
	Proxy       proxy.Config

	// ReturnNoneOnFailure turns failed items into nil values instead of a
	// *reqerr.PartialFailureError.
	ReturnNoneOnFailure bool

	// Cache, when set, wraps the backend with the Redis response cache.
	Cache *cache.Manager

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	retryDefaults := retry.DefaultConfig()
	return Config{
		Backend:           backend.Auto,
		Concurrency:       20,
		MaxRetries:        retryDefaults.MaxRetries,
		BackoffMultiplier: retryDefaults.BackoffMultiplier,
		Jitter:            retryDefaults.Jitter,
		RateLimitBurst:    5,
		HTTP2:             true,
		FollowRedirects:   true,
		VerifySSL:         true,
		RandomUserAgent:   true,
		Proxy:             proxy.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return reqerr.NewConfigurationError("concurrency", "concurrency must be > 0 (got %d)", c.Concurrency)
	}
	if c.MaxRetries < 0 {
		return reqerr.NewConfigurationError("max_retries", "max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.RateLimit < 0 {
		return reqerr.NewConfigurationError("rate_limit", "rate_limit must be >= 0 (got %v)", c.RateLimit)
	}
	if c.RateLimitBurst < 1 {
		return reqerr.NewConfigurationError("rate_limit_burst", "rate_limit_burst must be > 0 (got %d)", c.RateLimitBurst)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return reqerr.NewConfigurationError("jitter", "jitter must be within [0, 1] (got %v)", c.Jitter)
	}
	if c.BackoffMultiplier < 0 {
		return reqerr.NewConfigurationError("backoff_multiplier", "backoff_multiplier must be >= 0 (got %v)", c.BackoffMultiplier)
	}
	if c.Timeout < 0 {
		return reqerr.NewConfigurationError("timeout", "timeout must be >= 0 (got %v)", c.Timeout)
	}
	return nil
}

// ParseFunc transforms the value of a successful item. A returned error
// fails the item.
type ParseFunc func(value any) (any, error)

// StreamFunc receives the body of a successful item for ReturnStream.
type StreamFunc func(key string, body []byte) error

// Options are the per-call settings shared by every item of a batch.
type Options struct {
	Method  string
	Params  url.Values
	Data    []byte
	JSON    any
	Headers map[string]string

	// Timeout overrides Config.Timeout.
	Timeout time.Duration

	// Proxy pins every item to one proxy, bypassing rotation.
	Proxy string

	// ReturnType defaults to ReturnJSON.
	ReturnType ReturnType

	// FollowRedirects and VerifySSL override the client settings when set.
	FollowRedirects *bool
	VerifySSL       *bool

	ParseFunc      ParseFunc
	StreamCallback StreamFunc

	// Keys names the items; len(Keys) must equal the number of URLs.
	Keys []string
}

// Item is one logical request. Zero fields inherit from Options.
type Item struct {
	URL     string
	Key     string
	Method  string
	Params  url.Values
	Data    []byte
	JSON    any
	Headers map[string]string
	Timeout time.Duration
	Proxy   string
}

// Bool returns a pointer to v, for the override fields of Options.
func Bool(v bool) *bool { return &v }
