package domain

import (
	"context"
	"sync"
)

type tokenUsageKey struct{}

// TokenUsage collects model token usage for one request.
// The handler puts it into the context, the gateway adds to it after every
// model call, and the handler reports it when the request finishes.
type TokenUsage struct {
	mu               sync.Mutex
	promptTokens     int
	completionTokens int
	embeddingTokens  int
	calls            int
}

// UsageSnapshot is a point-in-time copy of TokenUsage.
type UsageSnapshot struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	EmbeddingTokens  int `json:"embedding_tokens"`
	Calls            int `json:"calls"`
}

// NewContextWithUsage returns a context carrying a fresh collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *TokenUsage) {
	u := &TokenUsage{}
	return context.WithValue(ctx, tokenUsageKey{}, u), u
}

// UsageFromContext returns the collector or nil.
func UsageFromContext(ctx context.Context) *TokenUsage {
	u, _ := ctx.Value(tokenUsageKey{}).(*TokenUsage)
	return u
}

// AddGeneration records a generation call. Safe on a nil receiver.
func (u *TokenUsage) AddGeneration(prompt, completion int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.promptTokens += prompt
	u.completionTokens += completion
	u.calls++
	u.mu.Unlock()
}

// AddEmbedding records an embedding call. Safe on a nil receiver.
func (u *TokenUsage) AddEmbedding(tokens int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += tokens
	u.calls++
	u.mu.Unlock()
}

// Snapshot copies the current counters.
func (u *TokenUsage) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		EmbeddingTokens:  u.embeddingTokens,
		Calls:            u.calls,
	}
}
