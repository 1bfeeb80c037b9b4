package askdex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultUserAgent = "askdex-go"

// Client is the askdex SDK entry point. It is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	http      *http.Client
	userAgent string
	obs       *observer
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("askdex: base URL required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("askdex: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("askdex: unsupported scheme %q", u.Scheme)
	}

	cfg := &clientConfig{userAgent: defaultUserAgent}
	for _, o := range opts {
		o.apply(cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:   u,
		apiKey:    cfg.apiKey,
		http:      hc,
		userAgent: cfg.userAgent,
		obs:       obs,
	}, nil
}

// Sources returns the source ingestion service.
func (c *Client) Sources() *SourceService {
	return &SourceService{c: c}
}

// Chat returns the service for one chat session.
func (c *Client) Chat(sessionID string) *ChatService {
	return &ChatService{c: c, sessionID: sessionID}
}

// newRequest builds a request against the API. A nil body sends no payload.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// do sends a JSON request and decodes a JSON response into out.
// A nil out discards the body. Statuses in accept count as success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, accept ...int) error {
	req, err := c.newRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !statusIn(resp.StatusCode, accept) {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusIn(code int, accept []int) bool {
	if len(accept) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accept {
		if a == code {
			return true
		}
	}
	return false
}

// decodeAPIError turns an error body into *APIError. Bodies that are not
// JSON keep their first bytes as the message.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// Models lists the registered model descriptors with their last known health.
func (c *Client) Models(ctx context.Context) (_ []ModelDescriptor, err error) {
	start := time.Now()
	defer func() { c.obs.observe("models", start, err) }()

	var resp struct {
		Models []ModelDescriptor `json:"models"`
	}
	if err = c.do(ctx, http.MethodGet, "/v1/models", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}
