package backend

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Response is a backend-agnostic HTTP response. It is built once by
// NewResponse and never mutated.
type Response struct {
	StatusCode int

	// Headers holds the response headers with lowercase keys. Repeated
	// headers are joined with ", ".
	Headers map[string]string

	Content []byte

	// Text is Content decoded as UTF-8, each invalid byte replaced by U+FFFD.
	Text string

	// JSON holds the decoded body when IsJSON is set and the body parses.
	// A parse failure leaves it nil.
	JSON any

	// URL is the final URL after redirects.
	URL string

	// IsJSON reports a Content-Type containing application/json.
	IsJSON bool
}

// NewResponse normalizes raw response parts.
func NewResponse(statusCode int, header http.Header, content []byte, finalURL string) *Response {
	headers := make(map[string]string, len(header))
	for k, vs := range header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}

	r := &Response{
		StatusCode: statusCode,
		Headers:    headers,
		Content:    content,
		Text:       decodeText(content),
		URL:        finalURL,
		IsJSON:     strings.Contains(strings.ToLower(headers["content-type"]), "application/json"),
	}

	if r.IsJSON {
		var v any
		if err := json.Unmarshal([]byte(r.Text), &v); err == nil {
			r.JSON = v
		}
	}
	return r
}

func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r) // RuneError with size 1 for every invalid byte
		b = b[size:]
	}
	return sb.String()
}

// Header returns the value of a header, matched case-insensitively.
func (r *Response) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// OK reports a status below 400.
func (r *Response) OK() bool {
	return r.StatusCode < 400
}
