package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
)

func TestNewResponse(t *testing.T) {
	tests := []struct {
		name       string
		header     http.Header
		body       []byte
		wantIsJSON bool
		wantJSON   bool
		wantText   string
	}{
		{
			name:       "json",
			header:     http.Header{"Content-Type": {"application/json; charset=utf-8"}},
			body:       []byte(`{"a": 1}`),
			wantIsJSON: true,
			wantJSON:   true,
			wantText:   `{"a": 1}`,
		},
		{
			name:       "json flag with invalid body",
			header:     http.Header{"Content-Type": {"Application/JSON"}},
			body:       []byte(`not json`),
			wantIsJSON: true,
			wantJSON:   false,
			wantText:   "not json",
		},
		{
			name:     "text",
			header:   http.Header{"Content-Type": {"text/html"}},
			body:     []byte("<p>hi</p>"),
			wantText: "<p>hi</p>",
		},
		{
			name:     "invalid utf8 replaced",
			header:   http.Header{},
			body:     []byte{'o', 'k', 0xff},
			wantText: "ok\uFFFD",
		},
		{
			name:     "one replacement per invalid byte",
			header:   http.Header{},
			body:     []byte{'a', 0xff, 0xfe, 'b'},
			wantText: "a\uFFFD\uFFFDb",
		},

	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponse(200, tt.header, tt.body, "http://example.com/final")

			if r.IsJSON != tt.wantIsJSON {
				t.Errorf("IsJSON = %v, want %v", r.IsJSON, tt.wantIsJSON)
			}
			if (r.JSON != nil) != tt.wantJSON {
				t.Errorf("JSON = %v, want present=%v", r.JSON, tt.wantJSON)
			}
			if r.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", r.Text, tt.wantText)
			}
			if r.URL != "http://example.com/final" {
				t.Errorf("URL = %q", r.URL)
			}
		})
	}
}

func TestNewResponse_HeadersLowercased(t *testing.T) {
	h := http.Header{}
	h.Set("X-Custom-Header", "v")
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")

	r := NewResponse(201, h, nil, "")

	if r.Headers["x-custom-header"] != "v" {
		t.Errorf("headers = %v, want lowercase keys", r.Headers)
	}
	if r.Header("SET-COOKIE") != "a=1, b=2" {
		t.Errorf("Header(Set-Cookie) = %q", r.Header("SET-COOKIE"))
	}
	if _, ok := r.Headers["X-Custom-Header"]; ok {
		t.Error("mixed-case key should not be present")
	}
}

func TestResponse_OK(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 302: true, 399: true, 400: false, 404: false, 503: false} {
		if got := NewResponse(code, nil, nil, "").OK(); got != want {
			t.Errorf("OK() for %d = %v, want %v", code, got, want)
		}
	}
}

func TestRequestConfig_FullURL(t *testing.T) {
	cfg := RequestConfig{
		URL:    "http://example.com/search?q=go",
		Params: url.Values{"page": {"2"}, "q": {"more"}},
	}
	got, err := cfg.FullURL()
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://example.com/search?page=2&q=go&q=more" {
		t.Errorf("FullURL() = %q", got)
	}

	plain := RequestConfig{URL: "http://example.com/x?y=1"}
	if got, _ := plain.FullURL(); got != plain.URL {
		t.Errorf("FullURL() without params = %q, want unchanged", got)
	}
}

func TestRequestConfig_Body(t *testing.T) {
	body, ct, err := RequestConfig{JSON: map[string]int{"n": 1}, Data: []byte("ignored")}.Body()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(body)
	if string(data) != `{"n":1}` || ct != "application/json" {
		t.Errorf("JSON body = %q (%s)", data, ct)
	}

	body, ct, _ = RequestConfig{Data: []byte("raw")}.Body()
	data, _ = io.ReadAll(body)
	if string(data) != "raw" || ct != "" {
		t.Errorf("raw body = %q (%s)", data, ct)
	}

	body, _, _ = RequestConfig{}.Body()
	if body != nil {
		t.Error("empty config should have no body")
	}

	_, _, err = RequestConfig{JSON: make(chan int)}.Body()
	if !errors.Is(err, reqerr.ErrValidation) {
		t.Errorf("unencodable JSON error = %v, want validation error", err)
	}
}

func TestRequestConfig_NewRequest(t *testing.T) {
	cfg := RequestConfig{
		URL:     "http://example.com/post",
		Method:  "post",
		JSON:    []int{1, 2},
		Headers: http.Header{"X-Trace": {"abc"}},
		Cookies: map[string]string{"session": "s1"},
	}

	req, err := cfg.NewRequest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s, want POST", req.Method)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	if req.Header.Get("X-Trace") != "abc" {
		t.Errorf("X-Trace = %q", req.Header.Get("X-Trace"))
	}
	if c, err := req.Cookie("session"); err != nil || c.Value != "s1" {
		t.Errorf("cookie session = %v, %v", c, err)
	}

	cfg.Headers.Set("Content-Type", "application/vnd.api+json")
	req, _ = cfg.NewRequest(context.Background())
	if req.Header.Get("Content-Type") != "application/vnd.api+json" {
		t.Errorf("caller Content-Type overridden: %q", req.Header.Get("Content-Type"))
	}
}

type stubBackend struct{ name string }

func (s stubBackend) Name() string { return s.name }
func (s stubBackend) Open(ctx context.Context) error { return nil }
func (s stubBackend) Close() error { return nil }
func (s stubBackend) SupportsHTTP2() bool { return false }
func (s stubBackend) Request(ctx context.Context, cfg RequestConfig) (*Response, error) {
	return NewResponse(200, nil, nil, cfg.URL), nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, err := r.New(Auto, DefaultOptions()); !errors.Is(err, reqerr.ErrConfiguration) {
		t.Errorf("empty registry auto: expected configuration error, got %v", err)
	}

	r.Register("zeta", func(Options) Backend { return stubBackend{"zeta"} })
	b, err := r.New("", DefaultOptions())
	if err != nil || b.Name() != "zeta" {
		t.Errorf("auto with single backend = %v, %v", b, err)
	}

	r.Register("colly", func(Options) Backend { return stubBackend{"colly"} })
	r.Register("nethttp", func(Options) Backend { return stubBackend{"nethttp"} })

	b, _ = r.New(Auto, DefaultOptions())
	if b.Name() != "nethttp" {
		t.Errorf("auto picked %s, want nethttp", b.Name())
	}

	b, err = r.New("COLLY", DefaultOptions())
	if err != nil || b.Name() != "colly" {
		t.Errorf("explicit name = %v, %v", b, err)
	}

	_, err = r.New("aiohttp", DefaultOptions())
	var cfgErr *reqerr.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "backend" {
		t.Errorf("unknown backend error = %v", err)
	}

	if got := r.Names(); len(got) != 3 || got[0] != "colly" {
		t.Errorf("Names() = %v", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrap("nethttp", context.DeadlineExceeded)
	if !errors.Is(err, reqerr.ErrBackend) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wrap() = %v, want backend error wrapping the cause", err)
	}
}
