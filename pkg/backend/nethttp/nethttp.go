// Package nethttp is the default backend, built on net/http with HTTP/2
// negotiated through golang.org/x/net/http2 and SOCKS5 proxies dialed through
// golang.org/x/net/proxy.
package nethttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/Sternrassler/go-parallel-requests/pkg/proxy"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	xproxy "golang.org/x/net/proxy"
)

// Name is the registry identifier.
const Name = "nethttp"

func init() {
	backend.Register(Name, func(opts backend.Options) backend.Backend { return New(opts) })
}

type transportKey struct {
	proxy  string
	verify bool
}

// Backend is a net/http backend. Transports are pooled per proxy and TLS
// verification setting, so connections are reused across requests.
type Backend struct {
	opts   backend.Options
	logger zerolog.Logger

	mu         sync.Mutex
	open       bool
	transports map[transportKey]*http.Transport
}

// New creates a closed backend.
func New(opts backend.Options) *Backend {
	return &Backend{
		opts:       opts,
		logger:     opts.Logger.With().Str("backend", Name).Logger(),
		transports: make(map[transportKey]*http.Transport),
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return Name }

// SupportsHTTP2 implements backend.Backend.
func (b *Backend) SupportsHTTP2() bool { return b.opts.HTTP2 }

// Open implements backend.Backend.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	b.logger.Debug().Bool("http2", b.opts.HTTP2).Msg("Backend opened")
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	for _, t := range b.transports {
		t.CloseIdleConnections()
	}
	b.transports = make(map[transportKey]*http.Transport)
	b.open = false
	b.logger.Debug().Msg("Backend closed")
	return nil
}

// Request implements backend.Backend.
func (b *Backend) Request(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
	transport, err := b.transport(transportKey{proxy: cfg.Proxy, verify: cfg.VerifySSL})
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := cfg.NewRequest(ctx)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Transport: transport}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, backend.Wrap(Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Wrap(Name, fmt.Errorf("read body: %w", err))
	}

	return backend.NewResponse(resp.StatusCode, resp.Header, body, resp.Request.URL.String()), nil
}

func (b *Backend) transport(key transportKey) (*http.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil, backend.NotOpen(Name)
	}
	if t, ok := b.transports[key]; ok {
		return t, nil
	}

	t, err := b.newTransport(key)
	if err != nil {
		return nil, err
	}
	b.transports[key] = t
	return t, nil
}

func (b *Backend) newTransport(key transportKey) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !key.verify},
	}

	if key.proxy != "" {
		u, err := proxy.ParseURL(key.proxy)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			var auth *xproxy.Auth
			if u.User != nil {
				pw, _ := u.User.Password()
				auth = &xproxy.Auth{User: u.User.Username(), Password: pw}
			}
			socks, err := xproxy.SOCKS5("tcp", u.Host, auth, dialer)
			if err != nil {
				return nil, backend.Wrap(Name, fmt.Errorf("socks5 dialer: %w", err))
			}
			if cd, ok := socks.(xproxy.ContextDialer); ok {
				t.DialContext = cd.DialContext
			} else {
				t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return socks.Dial(network, addr)
				}
			}
		default:
			t.Proxy = http.ProxyURL(u)
		}
	}

	if b.opts.HTTP2 {
		if err := http2.ConfigureTransport(t); err != nil {
			b.logger.Warn().Err(err).Msg("HTTP/2 unavailable, falling back to HTTP/1.1")
		}
	}

	return t, nil
}
