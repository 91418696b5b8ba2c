package cache

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
)

const (
	// DefaultTTL is the fallback TTL when neither Cache-Control max-age nor
	// Expires is present
	DefaultTTL = 5 * time.Minute
)

// EntryFromResponse converts a normalized response to an Entry. It returns
// false when the response forbids storage (Cache-Control no-store).
func EntryFromResponse(resp *backend.Response, defaultTTL time.Duration) (*Entry, bool, error) {
	if resp == nil {
		return nil, false, fmt.Errorf("response cannot be nil")
	}

	cc := parseCacheControl(resp.Header("Cache-Control"))
	if _, ok := cc["no-store"]; ok {
		return nil, false, nil
	}

	now := time.Now()
	entry := &Entry{
		Data:       resp.Content,
		ETag:       resp.Header("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		URL:        resp.URL,
		CachedAt:   now,
		Expires:    parseExpiry(resp, cc, now, defaultTTL),
	}

	if lastModStr := resp.Header("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, true, nil
}

// Refresh updates the expiry of an entry from a 304 response's headers.
func (e *Entry) Refresh(resp *backend.Response, defaultTTL time.Duration) {
	now := time.Now()
	e.Expires = parseExpiry(resp, parseCacheControl(resp.Header("Cache-Control")), now, defaultTTL)
	if etag := resp.Header("ETag"); etag != "" {
		e.ETag = etag
	}
	e.CachedAt = now
}

// parseExpiry resolves the expiry: max-age first, then Expires, then
// defaultTTL. no-cache yields an immediately stale entry.
func parseExpiry(resp *backend.Response, cc map[string]string, now time.Time, defaultTTL time.Duration) time.Time {
	if _, ok := cc["no-cache"]; ok {
		return now
	}
	if v, ok := cc["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	if expiresStr := resp.Header("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err == nil {
			if expires.Before(now) {
				return now
			}
			return expires
		}
	}

	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return now.Add(defaultTTL)
}

func parseCacheControl(v string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out[name] = strings.Trim(value, `"`)
	}
	return out
}

// ShouldMakeConditionalRequest reports whether the entry carries a validator
// (ETag or Last-Modified).
func ShouldMakeConditionalRequest(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since to
// the header set.
func AddConditionalHeaders(h http.Header, entry *Entry) {
	if entry == nil || h == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		h.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		h.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
