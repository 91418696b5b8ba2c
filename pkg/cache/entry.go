package cache

import (
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
)

// Entry represents a cached response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header (If-Modified-Since)
	LastModified time.Time `json:"last_modified"`

	StatusCode int `json:"status_code"`

	// Headers are the normalized (lowercase) response headers
	Headers map[string]string `json:"headers"`

	// URL is the final URL of the cached response
	URL string `json:"url"`

	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Response rebuilds a normalized response from the entry.
func (e *Entry) Response() *backend.Response {
	h := make(map[string][]string, len(e.Headers))
	for k, v := range e.Headers {
		h[k] = []string{v}
	}
	return backend.NewResponse(e.StatusCode, h, e.Data, e.URL)
}
