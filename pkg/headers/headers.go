// Package headers builds per-request headers with optional user-agent
// rotation.
//
// User agents are resolved once at construction, first match wins:
//
//  1. Config.UserAgents
//  2. Config.EnvUserAgents (USER_AGENTS, loaded by pkg/config)
//  3. Config.RemoteURL, one agent per line
//  4. DefaultUserAgents
package headers

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/rs/zerolog"
)

// HeaderUserAgent is the header key rotated by the manager.
const HeaderUserAgent = "User-Agent"

// DefaultUserAgents is the built-in rotation list.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// Config configures a Manager.
type Config struct {
	// RandomUserAgent enables the User-Agent header. With it off, no
	// User-Agent is injected.
	RandomUserAgent bool

	UserAgents    []string
	EnvUserAgents []string
	RemoteURL     string

	// CustomUserAgent, when set, replaces rotation with a fixed value.
	CustomUserAgent string

	// HTTPClient is used for remote list fetches. Defaults to a client with a
	// 10s timeout.
	HTTPClient *http.Client
}

// Manager produces request headers. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	enabled bool
	custom  string
	agents  []string
	client  *http.Client
	logger  zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager resolves the user-agent list and returns a Manager. A failing
// remote fetch falls through to the defaults.
func NewManager(ctx context.Context, cfg Config, logger zerolog.Logger) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	m := &Manager{
		enabled: cfg.RandomUserAgent,
		custom:  cfg.CustomUserAgent,
		client:  client,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.agents = m.resolve(ctx, cfg)
	return m
}

func (m *Manager) resolve(ctx context.Context, cfg Config) []string {
	if len(cfg.UserAgents) > 0 {
		return append([]string(nil), cfg.UserAgents...)
	}
	if len(cfg.EnvUserAgents) > 0 {
		return append([]string(nil), cfg.EnvUserAgents...)
	}
	if cfg.RemoteURL != "" {
		agents, err := fetchLines(ctx, m.client, cfg.RemoteURL)
		if err != nil {
			m.logger.Debug().Err(err).Str("url", cfg.RemoteURL).Msg("User agent fetch failed, using defaults")
		} else if len(agents) > 0 {
			return agents
		}
	}
	return append([]string(nil), DefaultUserAgents...)
}

// Headers returns a fresh header set: a User-Agent when enabled, then the
// caller's headers on top. A fixed custom agent beats rotation; otherwise
// every call picks a new random agent.
func (m *Manager) Headers(custom map[string]string) http.Header {
	h := make(http.Header, len(custom)+1)

	if ua := m.userAgent(); ua != "" {
		h.Set(HeaderUserAgent, ua)
	}
	for k, v := range custom {
		h.Set(k, v)
	}
	return h
}

func (m *Manager) userAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return ""
	}
	if m.custom != "" {
		return m.custom
	}
	if len(m.agents) == 0 {
		return ""
	}

	m.rngMu.Lock()
	i := m.rng.Intn(len(m.agents))
	m.rngMu.Unlock()
	return m.agents[i]
}

// UpdateFromRemote replaces the agent list with the lines served at url. An
// empty list leaves the current agents in place.
func (m *Manager) UpdateFromRemote(ctx context.Context, url string) error {
	agents, err := fetchLines(ctx, m.client, url)
	if err != nil {
		return fmt.Errorf("update user agents: %w", err)
	}
	if len(agents) == 0 {
		return nil
	}

	m.mu.Lock()
	m.agents = agents
	m.mu.Unlock()

	m.logger.Info().Int("count", len(agents)).Msg("User agents updated")
	return nil
}

// SetCustomUserAgent fixes the User-Agent, overriding rotation. An empty
// value restores rotation.
func (m *Manager) SetCustomUserAgent(ua string) {
	m.mu.Lock()
	m.custom = ua
	m.mu.Unlock()
}

// UserAgents returns a copy of the rotation list.
func (m *Manager) UserAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.agents...)
}

// ParseList splits a comma-separated agent list.
func ParseList(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func fetchLines(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, reqerr.NewValidationError("url", "%v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &reqerr.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return lines, nil
}
