package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// CheckProviders health-checks every provider once and updates all of its
// descriptors. Checks run per provider, not per model.
func (g *Gateway) CheckProviders(ctx context.Context) {
	for name, p := range g.reg.providers {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := p.client.HealthCheck(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		for _, m := range g.reg.models {
			if m.provider != p {
				continue
			}
			if err != nil {
				m.markUnhealthy(g.now().Add(g.cooldown))
			} else {
				m.markHealthy()
			}
		}
		if err != nil {
			g.logger.Warn("Provider health check failed", zap.String("provider", name), zap.Error(err))
		}
	}
}

// Run checks providers on every tick until ctx is done. A non-positive
// interval checks once.
func (g *Gateway) Run(ctx context.Context, interval time.Duration) {
	g.CheckProviders(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.CheckProviders(ctx)
		}
	}
}

// HealthCheck fails when the chat or embedding default is in cooldown and
// has no available fallback.
func (g *Gateway) HealthCheck(_ context.Context) error {
	now := g.now()
	for _, task := range []domain.Task{domain.TaskChat, domain.TaskEmbedding} {
		id := g.defaults[task]
		if id == "" {
			continue
		}
		m := g.reg.models[id]
		if m.available(now) {
			continue
		}
		if fb, ok := g.reg.models[m.desc.Fallback]; ok && fb.available(now) {
			continue
		}
		return fmt.Errorf("%s model %s: %w", task, id, domain.ErrProviderUnavailable)
	}
	return nil
}
