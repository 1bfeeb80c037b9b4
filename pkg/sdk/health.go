package askdex

import (
	"context"
	"net/http"
	"time"
)

// Health returns the aggregated server health. A degraded server answers
// 503 with the same body, so it is returned without an error.
func (c *Client) Health(ctx context.Context) (_ HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("health", start, err) }()

	var hs HealthStatus
	err = c.do(ctx, http.MethodGet, "/health", nil, nil, &hs, http.StatusOK, http.StatusServiceUnavailable)
	return hs, err
}
