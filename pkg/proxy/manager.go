package proxy

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	proxiesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preq_proxies_loaded_total",
		Help: "Total number of valid proxies loaded into pools",
	})

	proxiesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preq_proxies_filtered_total",
		Help: "Total number of proxy candidates dropped by validation",
	})

	proxyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preq_proxy_failures_total",
		Help: "Total number of proxies put into cooldown",
	})
)

// Config holds proxy pool configuration.
type Config struct {
	// List holds proxy candidates in any accepted form.
	List []string

	// WebshareURL, when set, is fetched at construction for more candidates.
	WebshareURL string

	// FreeProxies is accepted for compatibility. Free-list scraping is not
	// provided, so it contributes no proxies.
	FreeProxies bool

	// RetryDelay is the cooldown applied by MarkFailed.
	RetryDelay time.Duration

	// ValidationTimeout bounds the webshare fetch.
	ValidationTimeout time.Duration

	// HTTPClient is used for the webshare fetch. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// DefaultConfig returns the default proxy configuration.
func DefaultConfig() Config {
	return Config{
		RetryDelay:        60 * time.Second,
		ValidationTimeout: 5 * time.Second,
	}
}

// Manager is a pool of validated proxies. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	proxies    []string
	known      map[string]struct{}
	cooldown   map[string]time.Time
	retryDelay time.Duration
	logger     zerolog.Logger
	now        func() time.Time
	rng        *rand.Rand
}

// NewManager loads candidates from cfg.List and cfg.WebshareURL, validates them
// and returns the pool. Invalid candidates are dropped and counted.
func NewManager(ctx context.Context, cfg Config, logger zerolog.Logger) (*Manager, error) {
	candidates := append([]string(nil), cfg.List...)

	if cfg.WebshareURL != "" {
		fetchCtx := ctx
		if cfg.ValidationTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, cfg.ValidationTimeout)
			defer cancel()
		}
		webshare, err := LoadWebshare(fetchCtx, cfg.HTTPClient, cfg.WebshareURL)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, webshare...)
	}

	if cfg.FreeProxies {
		logger.Debug().Msg("Free proxy lists are not fetched")
	}

	return newManager(candidates, cfg.RetryDelay, logger), nil
}

// NewFromList builds a pool from the given candidates only.
func NewFromList(candidates []string, retryDelay time.Duration, logger zerolog.Logger) *Manager {
	return newManager(candidates, retryDelay, logger)
}

func newManager(candidates []string, retryDelay time.Duration, logger zerolog.Logger) *Manager {
	if retryDelay <= 0 {
		retryDelay = DefaultConfig().RetryDelay
	}

	m := &Manager{
		known:      make(map[string]struct{}),
		cooldown:   make(map[string]time.Time),
		retryDelay: retryDelay,
		logger:     logger,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	filtered := 0
	for _, c := range candidates {
		if !Validate(c) {
			filtered++
			logger.Debug().Str("proxy", redact(c)).Msg("Filtered invalid proxy format")
			continue
		}
		if _, dup := m.known[c]; dup {
			continue
		}
		m.known[c] = struct{}{}
		m.proxies = append(m.proxies, c)
	}

	proxiesLoaded.Add(float64(len(m.proxies)))
	proxiesFiltered.Add(float64(filtered))

	if filtered > 0 {
		logger.Warn().
			Int("valid", len(m.proxies)).
			Int("filtered", filtered).
			Msg("Dropped invalid proxies")
	} else if len(m.proxies) > 0 {
		logger.Info().Int("valid", len(m.proxies)).Msg("Proxies loaded")
	}

	return m
}

// Next returns a uniformly random proxy that is not in cooldown. ok is false
// when no proxy is available; callers then connect directly.
func (m *Manager) Next() (proxy string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for p, until := range m.cooldown {
		if !until.After(now) {
			delete(m.cooldown, p)
		}
	}

	available := make([]string, 0, len(m.proxies))
	for _, p := range m.proxies {
		if _, cooling := m.cooldown[p]; !cooling {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return "", false
	}
	return available[m.rng.Intn(len(available))], true
}

// MarkFailed puts a known proxy into cooldown for the retry delay. Unknown
// proxies are ignored.
func (m *Manager) MarkFailed(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.known[proxy]; !ok {
		return
	}
	m.cooldown[proxy] = m.now().Add(m.retryDelay)
	proxyFailures.Inc()
	m.logger.Debug().
		Str("proxy", redact(proxy)).
		Dur("cooldown", m.retryDelay).
		Msg("Proxy marked failed")
}

// MarkSuccess clears any cooldown on proxy.
func (m *Manager) MarkSuccess(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cooldown, proxy)
}

// Count returns the number of proxies in the pool.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}

// CountAvailable returns the number of proxies not in cooldown.
func (m *Manager) CountAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, p := range m.proxies {
		if until, cooling := m.cooldown[p]; !cooling || !until.After(now) {
			n++
		}
	}
	return n
}

// Proxies returns a copy of the pool.
func (m *Manager) Proxies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.proxies...)
}
