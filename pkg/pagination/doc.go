// Package pagination fetches every page of a paginated endpoint in parallel.
//
// The first page is requested alone to learn the page count from a response
// header (X-Pages by default). The remaining pages then run as one batch
// through the client, so they share its concurrency cap, rate limit, retry
// policy and proxy rotation.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(c, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAll(ctx, "https://api.example.com/v1/orders", client.Options{})
//
// A failed page does not discard the others: FetchAll returns every page it
// got together with a *reqerr.PartialFailureError keyed by page number.
package pagination
