package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/config"
	dbRedis "github.com/kailas-cloud/askdex/internal/db/redis"
	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
	budgetrepo "github.com/kailas-cloud/askdex/internal/repository/budget"
	"github.com/kailas-cloud/askdex/internal/repository/embcache"
	"github.com/kailas-cloud/askdex/internal/transport/anthropic"
	"github.com/kailas-cloud/askdex/internal/transport/ollama"
	"github.com/kailas-cloud/askdex/internal/transport/openai"
	"github.com/kailas-cloud/askdex/internal/usecase/gateway"
)

// buildGateway registers every configured provider and model descriptor.
// Budgets are shared per provider and persisted in the store.
func buildGateway(ctx context.Context, cfg config.Config, store *dbRedis.Store, logger *zap.Logger) (*gateway.Gateway, error) {
	reg := gateway.NewRegistry()
	budgetStore := budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Providers[name]
		client, err := newProvider(name, pc)
		if err != nil {
			return nil, err
		}

		opts := gateway.ProviderOptions{RPS: pc.RPS, Burst: pc.Burst}
		if pc.Budget.DailyTokenLimit > 0 || pc.Budget.MonthlyTokenLimit > 0 {
			action := gateway.BudgetActionWarn
			if pc.Budget.Action == "reject" {
				action = gateway.BudgetActionReject
			}
			opts.Budget = gateway.NewBudgetTracker(
				name, pc.Budget.DailyTokenLimit, pc.Budget.MonthlyTokenLimit, action, logger,
			).WithStore(ctx, budgetStore)
		}
		if err := reg.AddProvider(name, client, opts); err != nil {
			return nil, err
		}
	}

	for id, mc := range cfg.Models {
		if err := reg.AddModel(gateway.Descriptor{
			ID:            id,
			Provider:      mc.Provider,
			Name:          mc.Name,
			Modality:      domain.Modality(mc.Modality),
			ContextWindow: mc.ContextWindow,
			Fallback:      mc.Fallback,
			Timeout:       time.Duration(mc.TimeoutSec) * time.Second,
		}); err != nil {
			return nil, err
		}
	}

	gw, err := gateway.New(reg, gateway.Options{
		Defaults: map[domain.Task]string{
			domain.TaskChat:           cfg.Defaults.Chat,
			domain.TaskTools:          cfg.Defaults.Tools,
			domain.TaskTransformation: cfg.Defaults.Transformation,
			domain.TaskLargeContext:   cfg.Defaults.LargeContext,
			domain.TaskEmbedding:      cfg.Defaults.Embedding,
		},
		LargeContextThreshold: cfg.Defaults.LargeContextThreshold,
		Cooldown:              time.Duration(cfg.Health.CooldownSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build model gateway: %w", err)
	}

	logger.Info("Model gateway ready",
		zap.Strings("providers", names),
		zap.String("chat", cfg.Defaults.Chat),
		zap.String("embedding", cfg.Defaults.Embedding),
	)
	return gw, nil
}

func newProvider(name string, pc config.ProviderConfig) (gateway.Provider, error) {
	timeout := time.Duration(pc.TimeoutSec) * time.Second
	switch pc.Type {
	case "openai":
		return openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Timeout: timeout}), nil
	case "anthropic":
		c, err := anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return c, nil
	case "ollama":
		return ollama.New(ollama.Config{BaseURL: pc.BaseURL, Timeout: timeout}), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown type %q", name, pc.Type)
	}
}

// buildEmbedders assembles the decorator chain: Gateway -> Cached -> Instruction.
// The instruction wrapper is outermost so the cache key includes it.
func buildEmbedders(
	cfg config.Config,
	gw *gateway.Gateway,
	store *dbRedis.Store,
	logger *zap.Logger,
) (doc, query *domain.InstructionEmbedder) {
	ttl := time.Duration(cfg.Embedding.CacheTTLSec) * time.Second
	cached := embcache.New(gw, store, cfg.Defaults.Embedding, ttl, metrics.EmbeddingCacheTotal, logger)

	doc = domain.NewInstructionEmbedder(cached, cfg.Embedding.DocumentInstruction)
	query = domain.NewInstructionEmbedder(cached, cfg.Embedding.QueryInstruction)
	return doc, query
}
