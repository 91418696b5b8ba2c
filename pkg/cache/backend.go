package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/rs/zerolog"
)

// Config configures the caching backend.
type Config struct {
	// DefaultTTL applies when the response names no freshness lifetime
	DefaultTTL time.Duration

	// VaryHeaders are request headers whose values separate cache entries
	VaryHeaders []string
}

// DefaultConfig returns the default caching configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:  DefaultTTL,
		VaryHeaders: []string{"Accept", "Authorization"},
	}
}

// Backend decorates a backend.Backend with the Redis response cache. Only
// plain GET requests with a 200 answer are stored.
type Backend struct {
	inner   backend.Backend
	manager *Manager
	config  Config
	logger  zerolog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend wraps inner with the cache.
func NewBackend(inner backend.Backend, manager *Manager, cfg Config, logger zerolog.Logger) *Backend {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Backend{
		inner:   inner,
		manager: manager,
		config:  cfg,
		logger:  logger.With().Str("component", "cache").Str("backend", inner.Name()).Logger(),
	}
}

// Name returns the wrapped backend's name.
func (b *Backend) Name() string { return b.inner.Name() }

// SupportsHTTP2 returns the wrapped backend's capability.
func (b *Backend) SupportsHTTP2() bool { return b.inner.SupportsHTTP2() }

// Open opens the wrapped backend.
func (b *Backend) Open(ctx context.Context) error { return b.inner.Open(ctx) }

// Close closes the wrapped backend. The Redis client is owned by the caller.
func (b *Backend) Close() error { return b.inner.Close() }

// Request serves fresh entries from the cache, revalidates stale ones and
// stores cacheable responses.
func (b *Backend) Request(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
	if !b.cacheable(cfg) {
		return b.inner.Request(ctx, cfg)
	}

	key := b.keyFor(cfg)
	log := b.logger.With().Str("key", key.String()).Logger()

	entry, err := b.manager.Get(ctx, key)
	switch {
	case err == nil && !entry.IsExpired():
		CacheHits.WithLabelValues("redis").Inc()
		log.Debug().Dur("ttl", entry.TTL()).Msg("Cache hit")
		return entry.Response(), nil
	case err != nil && !errors.Is(err, ErrCacheMiss):
		log.Warn().Err(err).Msg("Cache read failed")
		entry = nil
	case err != nil:
		entry = nil
	}

	out := cfg
	if ShouldMakeConditionalRequest(entry) {
		out.Headers = cloneHeader(cfg.Headers)
		AddConditionalHeaders(out.Headers, entry)
	}

	resp, err := b.inner.Request(ctx, out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		ConditionalRequests.Inc()
		CacheHits.WithLabelValues("redis").Inc()
		entry.Refresh(resp, b.config.DefaultTTL)
		if err := b.manager.Set(ctx, key, entry); err != nil {
			log.Warn().Err(err).Msg("Cache refresh failed")
		}
		log.Debug().Dur("ttl", entry.TTL()).Msg("Revalidated")
		return entry.Response(), nil
	}

	if resp.StatusCode == http.StatusOK {
		b.store(ctx, key, resp, log)
	}
	return resp, nil
}

func (b *Backend) store(ctx context.Context, key Key, resp *backend.Response, log zerolog.Logger) {
	entry, ok, err := EntryFromResponse(resp, b.config.DefaultTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Cache entry build failed")
		return
	}
	if !ok {
		log.Debug().Msg("Response not storable")
		return
	}
	if err := b.manager.Set(ctx, key, entry); err != nil {
		log.Warn().Err(err).Msg("Cache write failed")
	}
}

func (b *Backend) cacheable(cfg backend.RequestConfig) bool {
	if cfg.MethodOrDefault() != http.MethodGet || cfg.Stream {
		return false
	}
	if cfg.Data != nil || cfg.JSON != nil {
		return false
	}
	// Caller-driven revalidation passes straight through.
	if cfg.Headers.Get("If-None-Match") != "" || cfg.Headers.Get("If-Modified-Since") != "" {
		return false
	}
	return !strings.Contains(strings.ToLower(cfg.Headers.Get("Cache-Control")), "no-store")
}

func (b *Backend) keyFor(cfg backend.RequestConfig) Key {
	var variant []string
	for _, h := range b.config.VaryHeaders {
		if v := cfg.Headers.Get(h); v != "" {
			variant = append(variant, strings.ToLower(h)+"="+v)
		}
	}
	// Session cookies separate entries like vary headers do.
	if v := cfg.Headers.Get("Cookie"); v != "" {
		variant = append(variant, "cookie="+v)
	}
	if len(cfg.Cookies) > 0 {
		names := make([]string, 0, len(cfg.Cookies))
		for name := range cfg.Cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			variant = append(variant, "cookie:"+name+"="+cfg.Cookies[name])
		}
	}
	key := Key{
		Method: cfg.MethodOrDefault(),
		URL:    cfg.URL,
		Params: cfg.Params,
	}
	if len(variant) > 0 {
		// Header values must not land in Redis key names verbatim.
		sum := sha256.Sum256([]byte(strings.Join(variant, ";")))
		key.Variant = hex.EncodeToString(sum[:8])
	}
	return key
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
