package collybackend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/go-parallel-requests/internal/testutil"
	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
)

func openBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(backend.DefaultOptions())
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func baseConfig(u string) backend.RequestConfig {
	return backend.RequestConfig{URL: u, FollowRedirects: true, VerifySSL: true}
}

func TestRegistered(t *testing.T) {
	b, err := backend.Default().New(Name, backend.DefaultOptions())
	if err != nil {
		t.Fatalf("registry New(%q) error = %v", Name, err)
	}
	if b.Name() != Name || b.SupportsHTTP2() {
		t.Errorf("backend = %s (http2 %v)", b.Name(), b.SupportsHTTP2())
	}
}

func TestRequest_JSON(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/data", testutil.NewJSONResponse(`{"value": 42}`))

	b := openBackend(t)
	resp, err := b.Request(context.Background(), baseConfig(mock.URL()+"/data"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || !resp.IsJSON {
		t.Fatalf("response = %d json=%v", resp.StatusCode, resp.IsJSON)
	}
	if obj, ok := resp.JSON.(map[string]any); !ok || obj["value"] != float64(42) {
		t.Errorf("JSON = %#v", resp.JSON)
	}
	if mock.LastHeader().Get(routeHeader) != "" {
		t.Error("routing header leaked to the server")
	}
}

func TestRequest_RevisitSameURL(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	b := openBackend(t)
	for i := 0; i < 3; i++ {
		if _, err := b.Request(context.Background(), baseConfig(mock.URL()+"/again")); err != nil {
			t.Fatalf("Request() #%d error = %v", i, err)
		}
	}
	if got := mock.PathCount("/again"); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestRequest_PostBody(t *testing.T) {
	var gotBody, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody, gotCT = string(data), r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b := openBackend(t)
	cfg := baseConfig(srv.URL)
	cfg.Method = http.MethodPost
	cfg.JSON = map[string]int{"a": 1}

	resp, err := b.Request(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if gotBody != `{"a":1}` || gotCT != "application/json" {
		t.Errorf("server got %q (%s)", gotBody, gotCT)
	}
}

func TestRequest_ErrorStatusReturned(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/err", testutil.NewServerErrorResponse())

	b := openBackend(t)
	resp, err := b.Request(context.Background(), baseConfig(mock.URL()+"/err"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}
}

func TestRequest_NoFollowRedirects(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetHandler("/from", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/to", http.StatusMovedPermanently)
	})
	mock.SetResponse("/to", testutil.NewTextResponse("target"))

	b := openBackend(t)

	resp, err := b.Request(context.Background(), baseConfig(mock.URL()+"/from"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "target" {
		t.Errorf("followed redirect body = %q", resp.Text)
	}

	cfg := baseConfig(mock.URL() + "/from")
	cfg.FollowRedirects = false
	resp, err = b.Request(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want 301", resp.StatusCode)
	}
}

func TestRequest_Timeout(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{Delay: 500 * time.Millisecond})

	b := openBackend(t)
	cfg := baseConfig(mock.URL() + "/slow")
	cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := b.Request(context.Background(), cfg)
	if !errors.Is(err, reqerr.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("timed out request took %v", elapsed)
	}
}

func TestRequest_Proxy(t *testing.T) {
	var proxiedHost string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedHost = r.URL.Host
		w.Write([]byte("proxied"))
	}))
	defer proxySrv.Close()

	b := openBackend(t)
	cfg := baseConfig("http://example.invalid/x")
	cfg.Proxy = strings.TrimPrefix(proxySrv.URL, "http://")

	resp, err := b.Request(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.Text != "proxied" || proxiedHost != "example.invalid" {
		t.Errorf("proxy saw %q, body %q", proxiedHost, resp.Text)
	}
}

func TestRequest_NotOpen(t *testing.T) {
	b := New(backend.DefaultOptions())
	_, err := b.Request(context.Background(), baseConfig("http://example.com"))
	if !errors.Is(err, reqerr.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() on unopened backend error = %v", err)
	}
}
