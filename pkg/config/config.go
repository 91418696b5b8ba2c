// Package config loads process-level defaults from the environment and an
// optional config file via Viper, and converts them into a client.Config.
//
// Keys carry the PARALLEL_ prefix (PARALLEL_CONCURRENCY, PARALLEL_HTTP2, ...).
// Proxy, user-agent and Redis sources use their bare names: PROXIES,
// WEBSHARE_PROXIES_URL, USER_AGENTS, USER_AGENTS_URL and REDIS_URL.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/go-parallel-requests/pkg/cache"
	"github.com/Sternrassler/go-parallel-requests/pkg/client"
	"github.com/Sternrassler/go-parallel-requests/pkg/headers"
	"github.com/Sternrassler/go-parallel-requests/pkg/proxy"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// DefaultPrefix is the environment prefix of the PARALLEL_ keys.
const DefaultPrefix = "PARALLEL"

// GlobalConfig captures the environment-derived defaults.
type GlobalConfig struct {
	Backend        string  `mapstructure:"backend"`
	Concurrency    int     `mapstructure:"concurrency"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RateLimit      float64 `mapstructure:"rate_limit"` // 0 = unlimited
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	HTTP2          bool    `mapstructure:"http2"`

	RandomUserAgent bool `mapstructure:"random_user_agent"`
	RandomProxy     bool `mapstructure:"random_proxy"`
	ProxyEnabled    bool `mapstructure:"proxy_enabled"`
	FreeProxies     bool `mapstructure:"free_proxies"`

	// Unprefixed sources
	Proxies       string `mapstructure:"proxies"`
	WebshareURL   string `mapstructure:"webshare_proxies_url"`
	UserAgents    string `mapstructure:"user_agents"`
	UserAgentsURL string `mapstructure:"user_agents_url"`
	RedisURL      string `mapstructure:"redis_url"`
}

// Default returns the built-in defaults.
func Default() GlobalConfig {
	return GlobalConfig{
		Backend:         "auto",
		Concurrency:     20,
		MaxRetries:      3,
		RateLimitBurst:  5,
		HTTP2:           true,
		RandomUserAgent: true,
	}
}

var unprefixed = []string{"proxies", "webshare_proxies_url", "user_agents", "user_agents_url", "redis_url"}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("http2", d.HTTP2)
	v.SetDefault("random_user_agent", d.RandomUserAgent)
	v.SetDefault("random_proxy", d.RandomProxy)
	v.SetDefault("proxy_enabled", d.ProxyEnabled)
	v.SetDefault("free_proxies", d.FreeProxies)
	for _, key := range unprefixed {
		v.SetDefault(key, "")
	}
}

// Load builds a GlobalConfig from the environment and, when path is set, a
// config file. Environment values win over the file.
func Load(path string) (GlobalConfig, error) {
	return LoadWithPrefix(path, DefaultPrefix)
}

// LoadWithPrefix is Load with a custom environment prefix.
func LoadWithPrefix(path, prefix string) (GlobalConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range unprefixed {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return GlobalConfig{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return GlobalConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg GlobalConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return GlobalConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

// Validate performs sanity checks on the configuration.
func (c GlobalConfig) Validate() error {
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
	return nil
}

// ToEnv renders the PARALLEL_ keys as environment variables. An unset rate
// limit renders as the empty string.
func (c GlobalConfig) ToEnv(prefix string) map[string]string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p := strings.TrimSuffix(prefix, "_") + "_"

	rate := ""
	if c.RateLimit > 0 {
		rate = strconv.FormatFloat(c.RateLimit, 'f', -1, 64)
	}
	return map[string]string{
		p + "BACKEND":           c.Backend,
		p + "CONCURRENCY":       strconv.Itoa(c.Concurrency),
		p + "MAX_RETRIES":       strconv.Itoa(c.MaxRetries),
		p + "RATE_LIMIT":        rate,
		p + "RATE_LIMIT_BURST":  strconv.Itoa(c.RateLimitBurst),
		p + "HTTP2":             strconv.FormatBool(c.HTTP2),
		p + "RANDOM_USER_AGENT": strconv.FormatBool(c.RandomUserAgent),
		p + "RANDOM_PROXY":      strconv.FormatBool(c.RandomProxy),
		p + "PROXY_ENABLED":     strconv.FormatBool(c.ProxyEnabled),
		p + "FREE_PROXIES":      strconv.FormatBool(c.FreeProxies),
	}
}

// SaveToEnv writes ToEnv to a .env file, one KEY=value per line in sorted
// order. Empty values are omitted.
func (c GlobalConfig) SaveToEnv(path, prefix string) error {
	env := c.ToEnv(prefix)
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// RedisClient returns a client for RedisURL, or nil when it is unset.
func (c GlobalConfig) RedisClient() (*redis.Client, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, reqerr.NewConfigurationError("redis_url", "invalid redis url: %v", err)
	}
	return redis.NewClient(opts), nil
}

// ClientConfig converts the loaded values into a client configuration. When
// RedisURL is set the response cache is enabled and the returned closer owns
// its connection pool; without Redis the closer does nothing. Close it once
// the client is done.
func (c GlobalConfig) ClientConfig() (client.Config, io.Closer, error) {
	cfg := client.DefaultConfig()
	cfg.Backend = c.Backend
	cfg.Concurrency = c.Concurrency
	cfg.MaxRetries = c.MaxRetries
	cfg.RateLimit = c.RateLimit
	cfg.RateLimitBurst = c.RateLimitBurst
	cfg.HTTP2 = c.HTTP2
	cfg.RandomUserAgent = c.RandomUserAgent
	cfg.EnvUserAgents = headers.ParseList(c.UserAgents)
	cfg.UserAgentsURL = c.UserAgentsURL

	cfg.RandomProxy = c.RandomProxy || c.ProxyEnabled
	cfg.Proxy = proxy.DefaultConfig()
	cfg.Proxy.List = proxy.ParseList(c.Proxies)
	cfg.Proxy.WebshareURL = c.WebshareURL
	cfg.Proxy.FreeProxies = c.FreeProxies

	rdb, err := c.RedisClient()
	if err != nil {
		return client.Config{}, nil, err
	}
	if rdb == nil {
		return cfg, nopCloser{}, nil
	}
	cfg.Cache = cache.NewManager(rdb)
	return cfg, rdb, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
