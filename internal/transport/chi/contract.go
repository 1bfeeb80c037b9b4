package chi

import (
	"context"

	"github.com/kailas-cloud/askdex/internal/domain"
	domusage "github.com/kailas-cloud/askdex/internal/domain/usage"
	"github.com/kailas-cloud/askdex/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/askdex/internal/usecase/health"
	"github.com/kailas-cloud/askdex/internal/usecase/ingest"
)

// SourceService ingests and manages sources.
type SourceService interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (*domain.Source, error)
	Get(ctx context.Context, id string) (*domain.Source, error)
	Delete(ctx context.Context, id string) error
	SubmitReembed(ctx context.Context, id string) error
}

// AnswerService runs the ask and chat pipelines.
type AnswerService interface {
	Ask(ctx context.Context, req answer.AskRequest) (<-chan domain.Event, error)
	Chat(ctx context.Context, req answer.ChatRequest) (<-chan domain.Event, error)
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ModelCatalog lists registered models with their health.
type ModelCatalog interface {
	Models() []domain.ModelDescriptor
}

// UsageService reports provider token usage.
type UsageService interface {
	GetReports(ctx context.Context, period domusage.Period, provider string) ([]domusage.Report, error)
}

// HealthService aggregates dependency health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}
