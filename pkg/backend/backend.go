// Package backend defines the transport contract consumed by the request
// orchestrator: send one HTTP request, get one normalized response.
//
// Concrete backends live in sub-packages and register themselves with the
// default registry from an init function:
//
//	import _ "github.com/Sternrassler/go-parallel-requests/pkg/backend/nethttp"
//
// A backend is opened once, used concurrently, and closed once. Close must
// be idempotent. Transport failures are returned as *reqerr.BackendError,
// never as raw transport errors; responses of any status are returned as-is.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
	"github.com/rs/zerolog"
)

// Backend executes HTTP requests.
type Backend interface {
	// Name returns the registry identifier.
	Name() string

	// Open acquires transport resources.
	Open(ctx context.Context) error

	// Close releases pooled connections. Safe to call more than once.
	Close() error

	// Request executes one HTTP call.
	Request(ctx context.Context, cfg RequestConfig) (*Response, error)

	// SupportsHTTP2 reports whether HTTP/2 is negotiated when available.
	SupportsHTTP2() bool
}

// Options are backend-wide settings fixed at construction.
type Options struct {
	HTTP2           bool
	FollowRedirects bool
	VerifySSL       bool

	// Timeout is the default per-request timeout. Zero means none.
	Timeout time.Duration

	Logger zerolog.Logger
}

// DefaultOptions returns HTTP/2 on, redirects followed and TLS verified.
func DefaultOptions() Options {
	return Options{
		HTTP2:           true,
		FollowRedirects: true,
		VerifySSL:       true,
		Logger:          zerolog.Nop(),
	}
}

// RequestConfig describes one HTTP call.
type RequestConfig struct {
	URL    string
	Method string
	Params url.Values

	// Data is sent verbatim as the body. JSON, when non-nil, is encoded and
	// takes precedence over Data.
	Data []byte
	JSON any

	Headers http.Header
	Cookies map[string]string

	// Timeout bounds this request. Zero falls back to the backend default.
	Timeout time.Duration

	// Proxy is an accepted proxy address, see pkg/proxy. Empty means direct.
	Proxy string

	FollowRedirects bool
	VerifySSL       bool

	// Stream marks requests whose body is handed to a callback.
	Stream bool
}

// FullURL returns URL with Params merged into its query string.
func (c RequestConfig) FullURL() (string, error) {
	if len(c.Params) == 0 {
		return c.URL, nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", reqerr.NewValidationError("url", "%v", err)
	}
	q := u.Query()
	for k, vs := range c.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// MethodOrDefault returns the method, GET when unset.
func (c RequestConfig) MethodOrDefault() string {
	if c.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(c.Method)
}

// Body returns the encoded request body and the content type it implies.
// contentType is empty when the caller's headers should decide.
func (c RequestConfig) Body() (body io.Reader, contentType string, err error) {
	if c.JSON != nil {
		data, err := json.Marshal(c.JSON)
		if err != nil {
			return nil, "", reqerr.NewValidationError("json", "encode body: %v", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
	if c.Data != nil {
		return bytes.NewReader(c.Data), "", nil
	}
	return nil, "", nil
}

// ApplyHeaders copies headers and cookies onto req. The JSON content type is
// only set when the caller did not choose one.
func (c RequestConfig) ApplyHeaders(req *http.Request, contentType string) {
	for k, vs := range c.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range c.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// NewRequest builds an *http.Request from the config.
func (c RequestConfig) NewRequest(ctx context.Context) (*http.Request, error) {
	target, err := c.FullURL()
	if err != nil {
		return nil, err
	}
	body, contentType, err := c.Body()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, c.MethodOrDefault(), target, body)
	if err != nil {
		return nil, reqerr.NewValidationError("request", "%v", err)
	}
	c.ApplyHeaders(req, contentType)
	return req, nil
}

// Wrap converts a transport error into a *reqerr.BackendError. Context
// cancellation is kept visible through Unwrap.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return &reqerr.BackendError{Backend: name, Err: err}
}

// NotOpen is returned by backends used outside their open scope.
func NotOpen(name string) error {
	return reqerr.NewConfigurationError("backend", "%s backend is not open", name)
}

// String describes the request for logs.
func (c RequestConfig) String() string {
	return fmt.Sprintf("%s %s", c.MethodOrDefault(), c.URL)
}
