package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "just expired",
			expires: time.Now().Add(-1 * time.Second),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	if ttl := (&Entry{Expires: time.Now().Add(-time.Minute)}).TTL(); ttl != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", ttl)
	}

	ttl := (&Entry{Expires: time.Now().Add(time.Hour)}).TTL()
	if ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("TTL() = %v, want about 1h", ttl)
	}
}

func TestEntry_Response(t *testing.T) {
	entry := &Entry{
		Data:       []byte(`{"n": 3}`),
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/json", "etag": `"x"`},
		URL:        "http://example.com/n",
	}

	resp := entry.Response()
	if resp.StatusCode != 200 || resp.URL != entry.URL {
		t.Errorf("response = %d %s", resp.StatusCode, resp.URL)
	}
	if !resp.IsJSON || resp.JSON.(map[string]any)["n"] != float64(3) {
		t.Errorf("JSON = %#v", resp.JSON)
	}
	if resp.Header("ETag") != `"x"` {
		t.Errorf("ETag = %q", resp.Header("ETag"))
	}
}
