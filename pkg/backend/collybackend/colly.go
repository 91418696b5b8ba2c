// Package collybackend implements backend.Backend on top of gocolly.
//
// Colly owns a single http.Client per collector tree. Per-request settings
// (proxy, TLS verification, timeout, redirects, cancellation) therefore travel
// through a routing header that the collector's transport resolves and strips
// before the request leaves the process.
package collybackend

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
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the registry identifier.
const Name = "colly"

const routeHeader = "X-Preq-Route"

func init() {
	backend.Register(Name, func(opts backend.Options) backend.Backend { return New(opts) })
}

type route struct {
	ctx     context.Context
	proxy   string
	verify  bool
	follow  bool
	timeout time.Duration
}

type transportKey struct {
	proxy  string
	verify bool
}

// Backend executes requests through a colly collector.
type Backend struct {
	opts   backend.Options
	logger zerolog.Logger

	mu         sync.Mutex
	base       *colly.Collector
	transports map[transportKey]*http.Transport

	routes sync.Map
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

// SupportsHTTP2 reports false: colly's transport is driven over HTTP/1.1.
func (b *Backend) SupportsHTTP2() bool { return false }

// Open implements backend.Backend.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.base != nil {
		return nil
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
		colly.IgnoreRobotsTxt(),
	)
	c.DisableCookies()
	c.SetRequestTimeout(0)
	c.WithTransport(&routingTransport{b: b})
	c.SetRedirectHandler(b.checkRedirect)

	b.base = c
	if b.opts.HTTP2 {
		b.logger.Debug().Msg("HTTP/2 requested, colly backend uses HTTP/1.1")
	}
	b.logger.Debug().Msg("Backend opened")
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.base == nil {
		return nil
	}
	for _, t := range b.transports {
		t.CloseIdleConnections()
	}
	b.transports = make(map[transportKey]*http.Transport)
	b.base = nil
	b.logger.Debug().Msg("Backend closed")
	return nil
}

// Request implements backend.Backend.
func (b *Backend) Request(ctx context.Context, cfg backend.RequestConfig) (*backend.Response, error) {
	b.mu.Lock()
	base := b.base
	b.mu.Unlock()
	if base == nil {
		return nil, backend.NotOpen(Name)
	}

	if cfg.Proxy != "" {
		if _, err := proxy.ParseURL(cfg.Proxy); err != nil {
			return nil, err
		}
	}

	// Build through net/http first so params, body encoding and cookies
	// follow the same rules as every other backend.
	req, err := cfg.NewRequest(ctx)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}

	id := uuid.NewString()
	b.routes.Store(id, route{
		ctx:     ctx,
		proxy:   cfg.Proxy,
		verify:  cfg.VerifySSL,
		follow:  cfg.FollowRedirects,
		timeout: timeout,
	})
	defer b.routes.Delete(id)

	hdr := req.Header.Clone()
	hdr.Set(routeHeader, id)

	var (
		result   *backend.Response
		fetchErr error
	)
	collector := base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		finalURL := r.Request.URL.String()
		result = backend.NewResponse(r.StatusCode, headerOf(r), append([]byte(nil), r.Body...), finalURL)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}

	if err := collector.Request(req.Method, req.URL.String(), body, nil, hdr); err != nil {
		return nil, backend.Wrap(Name, err)
	}
	if fetchErr != nil {
		return nil, backend.Wrap(Name, fetchErr)
	}
	if result == nil {
		return nil, backend.Wrap(Name, fmt.Errorf("no response for %s", cfg.URL))
	}
	return result, nil
}

func headerOf(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return *r.Headers
}

func (b *Backend) lookup(req *http.Request) (route, bool) {
	id := req.Header.Get(routeHeader)
	if id == "" {
		return route{}, false
	}
	v, ok := b.routes.Load(id)
	if !ok {
		return route{}, false
	}
	return v.(route), true
}

func (b *Backend) checkRedirect(req *http.Request, via []*http.Request) error {
	if rt, ok := b.lookup(req); ok && !rt.follow {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	return nil
}

func (b *Backend) transport(key transportKey) (*http.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.transports[key]; ok {
		return t, nil
	}

	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !key.verify},
	}
	if key.proxy != "" {
		u, err := proxy.ParseURL(key.proxy)
		if err != nil {
			return nil, err
		}
		t.Proxy = http.ProxyURL(u)
	}

	b.transports[key] = t
	return t, nil
}

// routingTransport resolves the route of each request, strips the routing
// header and forwards through the matching pooled transport.
type routingTransport struct {
	b *Backend
}

func (rt *routingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r, ok := rt.b.lookup(req)
	if !ok {
		r = route{ctx: req.Context(), verify: rt.b.opts.VerifySSL, timeout: rt.b.opts.Timeout}
	}

	t, err := rt.b.transport(transportKey{proxy: r.proxy, verify: r.verify})
	if err != nil {
		return nil, err
	}

	ctx := r.ctx
	if ctx == nil {
		ctx = req.Context()
	}
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	out := req.Clone(ctx)
	out.Header.Del(routeHeader)

	resp, err := t.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
