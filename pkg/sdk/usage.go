package askdex

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Usage returns per-provider usage for a period. An empty provider
// returns every provider with a budget.
func (c *Client) Usage(ctx context.Context, period UsagePeriod, provider string) (_ []UsageReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("usage", start, err) }()

	q := url.Values{}
	if period != "" {
		q.Set("period", string(period))
	}
	if provider != "" {
		q.Set("provider", provider)
	}

	var resp struct {
		Period    string        `json:"period"`
		Providers []UsageReport `json:"providers"`
	}
	if err = c.do(ctx, http.MethodGet, "/v1/usage", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}
