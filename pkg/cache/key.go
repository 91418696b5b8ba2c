package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached response.
type Key struct {
	// Method is the HTTP method, GET when empty
	Method string

	// URL is the request URL, possibly carrying a query string
	URL string

	// Params are extra query parameters merged with the URL query
	Params url.Values

	// Variant separates responses that depend on request headers
	// (for example an Accept or Authorization fingerprint)
	Variant string
}

// String generates a deterministic cache key string.
// Format: preq:METHOD:host/path:q1=v1:q2=v2[:v=variant]
//
// Example:
//
//	preq:GET:example.com/api/items:page=2:sort=asc
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts := []string{"preq", method}

	query := url.Values{}
	target := k.URL
	if u, err := url.Parse(k.URL); err == nil {
		target = strings.ToLower(u.Host) + "/" + strings.Trim(u.Path, "/")
		for key, vs := range u.Query() {
			query[key] = append(query[key], vs...)
		}
	}
	parts = append(parts, strings.TrimSuffix(target, "/"))

	for key, vs := range k.Params {
		query[key] = append(query[key], vs...)
	}

	// Query params sorted for determinism
	if len(query) > 0 {
		queryKeys := make([]string, 0, len(query))
		for key := range query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			vs := append([]string(nil), query[key]...)
			sort.Strings(vs)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(vs, ",")))
		}
	}

	if k.Variant != "" {
		parts = append(parts, "v="+k.Variant)
	}

	return strings.Join(parts, ":")
}
