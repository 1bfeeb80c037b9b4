// Package llmhttp holds the JSON-over-HTTP plumbing shared by model provider
// adapters and maps transport failures onto domain errors.
package llmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// maxErrorBody caps how much of an error response ends up in an error message.
const maxErrorBody = 512

// Client sends JSON requests to one provider base URL.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Headers map[string]string
}

// PostJSON marshals in, POSTs it to path and decodes the 200 response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

// GetJSON GETs path and decodes the 200 response into out (nil discards it).
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Classify(ctx, fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return StatusError(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w: %w", err, domain.ErrProviderError)
	}
	return nil
}

// StatusError maps a non-200 HTTP status to a domain error.
func StatusError(status int, detail string) error {
	var wrap error
	switch {
	case status == http.StatusTooManyRequests:
		wrap = domain.ErrRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		wrap = domain.ErrProviderTimeout
	default:
		wrap = domain.ErrProviderError
	}
	if detail == "" {
		return fmt.Errorf("provider returned status %d: %w", status, wrap)
	}
	return fmt.Errorf("provider returned status %d: %s: %w", status, detail, wrap)
}

// Classify wraps a transport error with ErrProviderTimeout when it was a
// deadline, and with ErrProviderError otherwise. Caller cancellation is
// returned untouched so it is never mistaken for a provider fault.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderError, err)
}
