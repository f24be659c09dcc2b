// Package httptransport implements adapter.Transport over net/http, the
// same client the provider integrations this module's adapters are
// modeled on use directly.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Client is a net/http-backed adapter.Transport.
type Client struct {
	HTTPClient *http.Client
}

// New creates a Client with a sensible default timeout. Per-call
// cancellation is still driven by the context passed to Do; this timeout
// is only a backstop against a hung connection with no deadline at all.
func New() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 5 * time.Minute}}
}

// Do implements adapter.Transport.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, nil, err
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, respHeaders, respBody, nil
}
