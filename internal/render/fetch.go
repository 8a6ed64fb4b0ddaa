package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxRegionBytes caps the size of a region source.
const maxRegionBytes = 64 << 20

// HTTPFetcher loads region sources over HTTP. Relative URLs resolve against
// BaseURL when set.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPFetcher returns a fetcher with a bounded client timeout.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: baseURL,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegionBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return body, nil
}

func (f *HTTPFetcher) resolve(rawURL string) (string, error) {
	if f.BaseURL == "" {
		return rawURL, nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("geojson url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
