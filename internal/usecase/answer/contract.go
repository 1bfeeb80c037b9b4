package answer

import (
	"context"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/usecase/retrieval"
)

// Planner decomposes a question.
type Planner interface {
	Plan(ctx context.Context, question, model string) (domain.SearchStrategy, error)
}

// Retriever runs a strategy against the index.
type Retriever interface {
	Execute(ctx context.Context, strategy domain.SearchStrategy, sel domain.ContextSelection) (retrieval.Result, error)
}

// Assembler renders the selected context within a token budget.
type Assembler interface {
	Assemble(ctx context.Context, sel domain.ContextSelection, budget int) (domain.ContextPayload, error)
}

// Generator is the model gateway.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error)
}

// History stores chat turns.
type History interface {
	Append(ctx context.Context, t domain.Turn) (domain.Turn, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	List(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Delete(ctx context.Context, sessionID string) error
}
