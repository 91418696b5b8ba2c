package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
)

// LoadWebshare fetches a webshare.io proxy list from url. Each line has the
// form ip:port:user:pass and is returned as http://user:pass@ip:port.
func LoadWebshare(ctx context.Context, client *http.Client, url string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &reqerr.ProxyError{Proxy: "webshare", Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &reqerr.ProxyError{Proxy: "webshare", Err: fmt.Errorf("fetch proxy list: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &reqerr.ProxyError{
			Proxy: "webshare",
			Err:   &reqerr.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url},
		}
	}

	var proxies []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 4 {
			continue
		}
		ip, port, user, pw := parts[0], parts[1], parts[2], parts[3]
		proxies = append(proxies, fmt.Sprintf("http://%s:%s@%s:%s", user, pw, ip, port))
	}
	if err := sc.Err(); err != nil {
		return nil, &reqerr.ProxyError{Proxy: "webshare", Err: fmt.Errorf("read proxy list: %w", err)}
	}
	return proxies, nil
}
