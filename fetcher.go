package lnurlpay

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultFetchTimeout is the timeout NewHTTPFetcher uses when none is given.
const DefaultFetchTimeout = 30 * time.Second

// HTTPFetcher is a Fetcher backed by a resty client.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &HTTPFetcher{client: client}
}

// Get performs the request and returns the body of a 2xx response.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string,
	params url.Values) ([]byte, error) {

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("GET request error: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("GET %s returned status %d: %s",
			rawURL, resp.StatusCode(), resp.Body())
	}

	return resp.Body(), nil
}
