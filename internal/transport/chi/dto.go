package chi

import (
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeNotFound            ErrorCode = "not_found"
	CodeValidationFailed    ErrorCode = "validation_failed"
	CodeModelNotFound       ErrorCode = "model_not_found"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeBudgetExceeded      ErrorCode = "budget_exceeded"
	CodeProviderError       ErrorCode = "provider_error"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
	CodeQueueFull           ErrorCode = "ingest_queue_full"
	CodeProviderTimeout     ErrorCode = "provider_timeout"
	CodeStreamUnsupported   ErrorCode = "stream_unsupported"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// IngestRequest is the body of POST /v1/sources.
type IngestRequest struct {
	ID    string          `json:"id,omitempty"`
	Kind  domain.ItemKind `json:"kind,omitempty"`
	Title string          `json:"title,omitempty"`
	Text  string          `json:"text"`
	Tags  []string        `json:"tags,omitempty"`
}

// AcceptedResponse acknowledges queued work.
type AcceptedResponse struct {
	SourceID string                 `json:"source_id"`
	Status   domain.EmbeddingStatus `json:"status"`
}

// ContextItem selects a source or note and the level it enters the context at.
type ContextItem struct {
	ID    string          `json:"id"`
	Kind  domain.ItemKind `json:"kind,omitempty"`
	Level string          `json:"level,omitempty"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question         string        `json:"question"`
	Items            []ContextItem `json:"items,omitempty"`
	Model            string        `json:"model,omitempty"`
	StrategyModel    string        `json:"strategy_model,omitempty"`
	AnswerModel      string        `json:"answer_model,omitempty"`
	FinalAnswerModel string        `json:"final_answer_model,omitempty"`
}

// ChatRequest is the body of POST /v1/chat/{session_id}/messages.
type ChatRequest struct {
	Message string        `json:"message"`
	Items   []ContextItem `json:"items,omitempty"`
	Model   string        `json:"model,omitempty"`
}

// TurnsResponse lists a chat session.
type TurnsResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []domain.Turn `json:"turns"`
}

// ModelsResponse lists the registered model descriptors.
type ModelsResponse struct {
	Models []domain.ModelDescriptor `json:"models"`
}

// UsageMetrics is consumption within a period.
type UsageMetrics struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// BudgetStatus is the token budget of a period. TokensRemaining is -1 when unlimited.
type BudgetStatus struct {
	TokensLimit     int64      `json:"tokens_limit"`
	TokensRemaining int64      `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

// ProviderUsage is one provider's usage report.
type ProviderUsage struct {
	Provider      string       `json:"provider"`
	PeriodStartAt *time.Time   `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time   `json:"period_end_at,omitempty"`
	Usage         UsageMetrics `json:"usage"`
	Budget        BudgetStatus `json:"budget"`
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Period    string          `json:"period"`
	Providers []ProviderUsage `json:"providers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func selectionFrom(items []ContextItem) domain.ContextSelection {
	if len(items) == 0 {
		return nil
	}
	sel := make(domain.ContextSelection, len(items))
	for i, it := range items {
		sel[i] = domain.ContextItem{
			ID:         it.ID,
			Kind:       it.Kind,
			Visibility: domain.Visibility(it.Level),
		}
	}
	return sel
}
