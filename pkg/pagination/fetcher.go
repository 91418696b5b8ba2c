package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/go-parallel-requests/pkg/backend"
	"github.com/Sternrassler/go-parallel-requests/pkg/client"
	"github.com/Sternrassler/go-parallel-requests/pkg/logging"
	"github.com/rs/zerolog"
)

// Config holds fetcher configuration.
type Config struct {
	// PageParam is the query parameter carrying the page number.
	PageParam string

	// TotalPagesHeader names the response header with the page count.
	TotalPagesHeader string

	// MaxPages caps the number of pages fetched (0 = no cap).
	MaxPages int

	// Logger overrides the package logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default page parameter and header.
func DefaultConfig() Config {
	return Config{
		PageParam:        "page",
		TotalPagesHeader: "X-Pages",
	}
}

// Fetcher fetches all pages of an endpoint through a client.
type Fetcher struct {
	client *client.Client
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher on an open client.
func NewFetcher(c *client.Client, cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.PageParam == "" {
		cfg.PageParam = def.PageParam
	}
	if cfg.TotalPagesHeader == "" {
		cfg.TotalPagesHeader = def.TotalPagesHeader
	}

	logger := logging.NewLogger("pagination")
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "pagination").Logger()
	}

	return &Fetcher{client: c, config: cfg, logger: logger}
}

// FetchAll returns page number → response for every page that succeeded.
// An error fetching the first page is returned as is. Failures on later
// pages yield the partial map and the batch's *reqerr.PartialFailureError.
func (f *Fetcher) FetchAll(ctx context.Context, rawURL string, opts client.Options) (map[int]*backend.Response, error) {
	start := time.Now()

	opts.ReturnType = client.ReturnResponse
	opts.ParseFunc = nil
	opts.Keys = nil

	first, err := f.client.Execute(ctx, []client.Item{f.item(rawURL, 1)}, opts)
	if first != nil && first.Errors[0] != nil {
		err = first.Errors[0]
	}
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	firstResp, _ := first.Values[0].(*backend.Response)
	if firstResp == nil {
		return nil, fmt.Errorf("fetch first page: no response for %s", rawURL)
	}

	total := f.totalPages(firstResp)
	pages := map[int]*backend.Response{1: firstResp}

	f.logger.Info().
		Str("url", rawURL).
		Int("total_pages", total).
		Msg("Starting parallel page fetch")

	if total == 1 {
		f.logger.Info().
			Str("url", rawURL).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return pages, nil
	}

	items := make([]client.Item, 0, total-1)
	for page := 2; page <= total; page++ {
		items = append(items, f.item(rawURL, page))
	}

	res, batchErr := f.client.Execute(ctx, items, opts)
	if res == nil {
		return pages, batchErr
	}
	for i, v := range res.Values {
		if resp, ok := v.(*backend.Response); ok && resp != nil {
			pages[i+2] = resp
		}
	}

	ev := f.logger.Info()
	if batchErr != nil {
		ev = f.logger.Warn().Err(batchErr)
	}
	ev.Str("url", rawURL).
		Int("pages", len(pages)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return pages, batchErr
}

// Total pages come from the configured header. A missing or unparsable
// header means a single page.
func (f *Fetcher) totalPages(resp *backend.Response) int {
	total, err := strconv.Atoi(strings.TrimSpace(resp.Header(f.config.TotalPagesHeader)))
	if err != nil || total < 1 {
		total = 1
	}
	if f.config.MaxPages > 0 && total > f.config.MaxPages {
		total = f.config.MaxPages
	}
	return total
}

func (f *Fetcher) item(rawURL string, page int) client.Item {
	n := strconv.Itoa(page)
	return client.Item{
		URL:    rawURL,
		Key:    n,
		Params: url.Values{f.config.PageParam: {n}},
	}
}
