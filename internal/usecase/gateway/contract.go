package gateway

import (
	"context"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// Provider is one back-end (OpenAI-compatible, Anthropic, Ollama, ...).
// The model name is chosen per call so one client serves many descriptors.
type Provider interface {
	Generate(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error)
	Embed(ctx context.Context, model string, texts []string) (domain.BatchEmbeddingResult, error)
	HealthCheck(ctx context.Context) error
}
