// Package sourcetest provides test doubles for source adapters.
package sourcetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/JakeFAU/preprint-crawler/internal/fetcher"
	"github.com/JakeFAU/preprint-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// HTTPClient performs single plain requests and reports non-2xx statuses
// as permanent fetch errors, matching the shape of the retrying fetcher.
type HTTPClient struct {
	Client *http.Client

	mu    sync.Mutex
	calls []string
}

// Calls returns "METHOD url" for every request made.
func (c *HTTPClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Get implements source.HTTPClient.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (fetcher.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// PostJSON implements source.HTTPClient.
func (c *HTTPClient) PostJSON(ctx context.Context, rawURL string, payload any) (fetcher.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return fetcher.Response{}, err
	}
	return c.do(ctx, http.MethodPost, rawURL, body)
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte) (fetcher.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, method+" "+rawURL)
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return fetcher.Response{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fetcher.Response{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetcher.Response{}, err
	}
	out := fetcher.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &ingest.FetchError{URL: rawURL, Status: resp.StatusCode, Attempts: 1, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return out, nil
}

// Renderer serves canned pages keyed by URL.
type Renderer struct {
	Pages map[string]string

	mu    sync.Mutex
	calls []string
}

// Render implements source.Renderer.
func (r *Renderer) Render(_ context.Context, rawURL, _ string) (headless.Page, error) {
	r.mu.Lock()
	r.calls = append(r.calls, rawURL)
	r.mu.Unlock()
	html, ok := r.Pages[rawURL]
	if !ok {
		return headless.Page{}, &ingest.FetchError{URL: rawURL, Status: http.StatusNotFound, Attempts: 1, Err: fmt.Errorf("no page")}
	}
	return headless.Page{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusOK, HTML: html}, nil
}

// Calls returns rendered URLs in order.
func (r *Renderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
