package askdex

import (
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// Wire types shared with the server.
type (
	Source          = domain.Source
	Event           = domain.Event
	EventType       = domain.EventType
	Stage           = domain.Stage
	SearchStrategy  = domain.SearchStrategy
	SubQuery        = domain.SubQuery
	Intent          = domain.Intent
	QueryAnswer     = domain.QueryAnswer
	FinalAnswer     = domain.FinalAnswer
	Citation        = domain.Citation
	ChunkRef        = domain.ChunkRef
	Turn            = domain.Turn
	ModelDescriptor = domain.ModelDescriptor
	ErrorKind       = domain.ErrorKind
	ErrorPayload    = domain.ErrorPayload
	ItemKind        = domain.ItemKind
	EmbeddingStatus = domain.EmbeddingStatus
)

// Item kinds.
const (
	ItemSource = domain.KindSource
	ItemNote   = domain.KindNote
)

// Embedding states of a source.
const (
	StatusPending    = domain.StatusPending
	StatusProcessing = domain.StatusProcessing
	StatusEmbedded   = domain.StatusEmbedded
	StatusPartial    = domain.StatusPartial
	StatusFailed     = domain.StatusFailed
)

// Event types.
const (
	EventStrategy    = domain.EventStrategy
	EventAnswer      = domain.EventAnswer
	EventFinalAnswer = domain.EventFinalAnswer
	EventError       = domain.EventError
)

// Sub-query intents.
const (
	IntentFactual    = domain.IntentFactual
	IntentComparison = domain.IntentComparison
	IntentSynthesis  = domain.IntentSynthesis
)

// Level is how much of a context item enters the prompt.
type Level string

// Context levels. An empty level is treated as excluded by the server.
const (
	LevelFull     Level = "full"
	LevelSummary  Level = "summary"
	LevelExcluded Level = "excluded"
)

// ContextItem selects a source or note. Later items count as more recent.
type ContextItem struct {
	ID    string   `json:"id"`
	Kind  ItemKind `json:"kind,omitempty"`
	Level Level    `json:"level,omitempty"`
}

// IngestRequest submits a document or note.
type IngestRequest struct {
	ID    string   `json:"id,omitempty"`
	Kind  ItemKind `json:"kind,omitempty"`
	Title string   `json:"title,omitempty"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags,omitempty"`
}

// Accepted acknowledges queued ingestion work.
type Accepted struct {
	SourceID string          `json:"source_id"`
	Status   EmbeddingStatus `json:"status"`
}

// AskRequest is one question. Model pins every stage and disables fallback.
type AskRequest struct {
	Question         string        `json:"question"`
	Items            []ContextItem `json:"items,omitempty"`
	Model            string        `json:"model,omitempty"`
	StrategyModel    string        `json:"strategy_model,omitempty"`
	AnswerModel      string        `json:"answer_model,omitempty"`
	FinalAnswerModel string        `json:"final_answer_model,omitempty"`
}

// ChatRequest is one chat message.
type ChatRequest struct {
	Message string        `json:"message"`
	Items   []ContextItem `json:"items,omitempty"`
	Model   string        `json:"model,omitempty"`
}

// UsagePeriod is the aggregation granularity for usage reports.
type UsagePeriod string

// UsagePeriod constants.
const (
	PeriodDay   UsagePeriod = "day"
	PeriodMonth UsagePeriod = "month"
	PeriodTotal UsagePeriod = "total"
)

// UsageReport is one provider's usage for a period.
type UsageReport struct {
	Provider      string       `json:"provider"`
	PeriodStartAt *time.Time   `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time   `json:"period_end_at,omitempty"`
	Usage         UsageMetrics `json:"usage"`
	Budget        BudgetStatus `json:"budget"`
}

// UsageMetrics tracks model consumption.
type UsageMetrics struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// BudgetStatus tracks token quota state. TokensRemaining is -1 when unlimited.
type BudgetStatus struct {
	TokensLimit     int64      `json:"tokens_limit"`
	TokensRemaining int64      `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded"
	Checks map[string]string `json:"checks"` // component -> "ok"/"error"
}
