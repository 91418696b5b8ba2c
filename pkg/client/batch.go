package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/sync/errgroup"
)

// Request executes one request per URL. See Execute.
func (c *Client) Request(ctx context.Context, urls []string, opts Options) (*Result, error) {
	items := make([]Item, len(urls))
	for i, u := range urls {
		items[i] = Item{URL: u}
	}
	return c.Execute(ctx, items, opts)
}

// RequestOne executes a single request and returns its bare value.
func (c *Client) RequestOne(ctx context.Context, rawURL string, opts Options) (any, error) {
	res, err := c.execute(ctx, []Item{{URL: rawURL}}, opts, true)
	if res == nil {
		return nil, err
	}
	return res.Value(), err
}

// Execute runs items concurrently and waits for all of them. Per-item errors
// never stop sibling items.
//
// When an item fails and Config.ReturnNoneOnFailure is off, Execute returns
// the Result together with a *reqerr.PartialFailureError after every item has
// completed. With it on, failed items are nil and no error is returned.
// Configuration problems (closed session, key count mismatch, duplicate keys)
// are returned before any I/O.
func (c *Client) Execute(ctx context.Context, items []Item, opts Options) (*Result, error) {
	return c.execute(ctx, items, opts, false)
}

type task struct {
	index int
	key   string // failure key: explicit key or decimal index
	item  Item
}

type outcome struct {
	key     string
	value   any
	err     error
	retries int
}

func (c *Client) execute(ctx context.Context, items []Item, opts Options, single bool) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := resolveKeys(items, opts.Keys)
	if err != nil {
		return nil, err
	}
	if opts.ReturnType == "" {
		opts.ReturnType = ReturnJSON
	}
	if !opts.ReturnType.Valid() {
		return nil, reqerr.NewConfigurationError("return_type", "unknown return type %q", opts.ReturnType)
	}
	if opts.ReturnType == ReturnStream && opts.StreamCallback == nil {
		return nil, reqerr.NewConfigurationError("stream_callback", "return type stream requires a stream callback")
	}

	batchID := uuid.NewString()
	logger := c.logger.With().Str("batch_id", batchID).Logger()
	start := time.Now()
	batchSize.Observe(float64(len(items)))

	logger.Debug().
		Int("items", len(items)).
		Str("return_type", string(opts.ReturnType)).
		Msg("Batch started")

	outcomes := make([]outcome, len(items))

	var g errgroup.Group
	for i, item := range items {
		t := task{index: i, key: strconv.Itoa(i), item: item}
		if keys != nil {
			t.key = keys[i]
		}
		g.Go(func() error {
			o := c.runTask(ctx, t, opts, logger)
			o.key = t.key
			outcomes[t.index] = o
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Values: make([]any, len(items)),
		Errors: make([]error, len(items)),
		Keys:   keys,
		single: single,
	}
	failures := make(map[string]reqerr.FailureDetails)

	for i, o := range outcomes {
		if o.err == nil && opts.ParseFunc != nil {
			o.value, o.err = parse(opts.ParseFunc, o.value)
		}
		if o.err == nil {
			res.Values[i] = o.value
			continue
		}

		res.Errors[i] = o.err
		errorsTotal.WithLabelValues(string(reqerr.Classify(o.err))).Inc()
		if c.config.ReturnNoneOnFailure {
			continue
		}
		failures[o.key] = reqerr.FailureDetails{
			Key:     o.key,
			Index:   i,
			URL:     items[i].URL,
			Err:     o.err,
			Attempt: o.retries,
		}
	}

	failed := res.Failed()
	successes := len(items) - failed
	event := logger.Debug()
	switch {
	case failed == 0:
		batchesTotal.WithLabelValues("success").Inc()
	case c.config.ReturnNoneOnFailure:
		batchesTotal.WithLabelValues("degraded").Inc()
		event = logger.Warn()
	default:
		batchesTotal.WithLabelValues("partial").Inc()
		event = logger.Error()
	}
	event.
		Int("total", len(items)).
		Int("succeeded", successes).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch completed")

	if len(failures) > 0 {
		return res, reqerr.NewPartialFailureError(failures, successes, len(items))
	}
	return res, nil
}

func parse(fn ParseFunc, v any) (out any, err error) {
	out, err = fn(v)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return out, nil
}

// resolveKeys returns the batch keys, from opts or from the items, or nil.
func resolveKeys(items []Item, optKeys []string) ([]string, error) {
	var keys []string
	switch {
	case optKeys != nil:
		if len(optKeys) != len(items) {
			return nil, reqerr.NewConfigurationError("keys",
				"number of keys (%d) must match number of urls (%d)", len(optKeys), len(items))
		}
		keys = optKeys
	default:
		n := 0
		for _, it := range items {
			if it.Key != "" {
				n++
			}
		}
		if n == 0 {
			return nil, nil
		}
		if n != len(items) {
			return nil, reqerr.NewConfigurationError("keys",
				"number of keys (%d) must match number of urls (%d)", n, len(items))
		}
		keys = make([]string, len(items))
		for i, it := range items {
			keys[i] = it.Key
		}
	}

	seen := make(map[string]int, len(keys))
	for i, k := range keys {
		if j, dup := seen[k]; dup {
			return nil, reqerr.NewConfigurationError("keys", "duplicate key %q at positions %d and %d", k, j, i)
		}
		seen[k] = i
	}
	return append([]string(nil), keys...), nil
}

// runTask executes one item through the limiter, retry strategy and backend.
func (c *Client) runTask(ctx context.Context, t task, opts Options, logger zerolog.Logger) outcome {
	logger = logger.With().Str("key", t.key).Str("url", t.item.URL).Logger()

	cfg, err := c.buildRequest(t.item, opts)
	if err != nil {
		logger.Debug().Err(err).Msg("Invalid request")
		return outcome{err: err}
	}

	resp, retries, err := c.do(ctx, cfg, t.item, opts, logger)
	if err != nil {
		var exhausted *reqerr.RetryExhaustedError
		if errors.As(err, &exhausted) {
			exhausted.URL = t.item.URL
		}
		return outcome{err: err, retries: retries}
	}

	value, err := extract(resp, t.key, opts)
	return outcome{value: value, err: err, retries: retries}
}

// do runs attempts through the retry strategy and reports the retries used.
func (c *Client) do(ctx context.Context, cfg backend.RequestConfig, item Item, opts Options, logger zerolog.Logger) (*backend.Response, int, error) {
	var (
		resp    *backend.Response
		retries int
	)
	err := c.retry.Execute(ctx, func(ctx context.Context, attempt int) error {
		retries = attempt
		r, err := c.attempt(ctx, cfg, item, opts, logger)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, retries, err
}

// attempt performs one backend call inside a limiter slot. The slot is
// released before the retry backoff.
func (c *Client) attempt(ctx context.Context, cfg backend.RequestConfig, item Item, opts Options, logger zerolog.Logger) (*backend.Response, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// Pinned proxies bypass the pool.
	rotated := false
	if cfg.Proxy == "" && c.proxies != nil {
		if p, ok := c.proxies.Next(); ok {
			cfg.Proxy = p
			rotated = true
		}
	}
	cfg.Headers = c.headers.Headers(mergeHeaders(opts.Headers, item.Headers))
	cfg.Cookies = c.Cookies()

	start := time.Now()
	resp, err := c.backend.Request(ctx, cfg)
	requestDuration.WithLabelValues(c.backend.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(c.backend.Name(), "error").Inc()
		if rotated && (errors.Is(err, reqerr.ErrBackend) || errors.Is(err, reqerr.ErrProxy)) {
			c.proxies.MarkFailed(cfg.Proxy)
		}
		logger.Debug().Err(err).Msg("Backend request failed")
		return nil, err
	}

	requestsTotal.WithLabelValues(c.backend.Name(), strconv.Itoa(resp.StatusCode)).Inc()
	if rotated {
		c.proxies.MarkSuccess(cfg.Proxy)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &reqerr.StatusError{
			StatusCode: resp.StatusCode,
			Status:     fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			URL:        cfg.URL,
		}
	}
	return resp, nil
}

// buildRequest merges batch options, item overrides and client defaults and
// validates the result.
func (c *Client) buildRequest(item Item, opts Options) (backend.RequestConfig, error) {
	cfg := backend.RequestConfig{
		URL:             item.URL,
		Method:          firstNonEmpty(item.Method, opts.Method),
		Params:          mergeParams(opts.Params, item.Params),
		Data:            opts.Data,
		JSON:            opts.JSON,
		Timeout:         c.config.Timeout,
		Proxy:           firstNonEmpty(item.Proxy, opts.Proxy),
		FollowRedirects: c.config.FollowRedirects,
		VerifySSL:       c.config.VerifySSL,
		Stream:          opts.ReturnType == ReturnStream,
	}
	if item.Data != nil || item.JSON != nil {
		cfg.Data, cfg.JSON = item.Data, item.JSON
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if item.Timeout > 0 {
		cfg.Timeout = item.Timeout
	}
	if opts.FollowRedirects != nil {
		cfg.FollowRedirects = *opts.FollowRedirects
	}
	if opts.VerifySSL != nil {
		cfg.VerifySSL = *opts.VerifySSL
	}

	if err := validateURL(cfg.URL); err != nil {
		return cfg, err
	}
	if !httpguts.ValidHeaderFieldName(cfg.MethodOrDefault()) {
		return cfg, reqerr.NewValidationError("method", "invalid method %q", cfg.Method)
	}
	for _, h := range []map[string]string{opts.Headers, item.Headers} {
		if err := validateHeaders(h); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return reqerr.NewValidationError("url", "url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reqerr.NewValidationError("url", "invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return reqerr.NewValidationError("url", "url %q must use http or https", raw)
	}
	if u.Host == "" {
		return reqerr.NewValidationError("url", "url %q has no host", raw)
	}
	return nil
}

func validateHeaders(h map[string]string) error {
	for k, v := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return reqerr.NewValidationError("headers", "invalid header name %q", k)
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return reqerr.NewValidationError("headers", "invalid value for header %q", k)
		}
	}
	return nil
}

// extract turns a successful response into the value for opts.ReturnType.
func extract(resp *backend.Response, key string, opts Options) (any, error) {
	switch opts.ReturnType {
	case ReturnText:
		return resp.Text, nil
	case ReturnContent:
		return resp.Content, nil
	case ReturnResponse:
		return resp, nil
	case ReturnStream:
		if err := opts.StreamCallback(key, resp.Content); err != nil {
			return nil, fmt.Errorf("stream callback: %w", err)
		}
		return nil, nil
	default:
		if !resp.IsJSON {
			return nil, nil
		}
		return resp.JSON, nil
	}
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func mergeParams(base, override url.Values) url.Values {
	if len(override) == 0 {
		return base
	}
	out := make(url.Values, len(base)+len(override))
	for k, vs := range base {
		out[k] = append([]string(nil), vs...)
	}
	for k, vs := range override {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
