package domain

import (
	"context"
	"fmt"
)

// Embedder turns a single text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes many texts in one call. Embeddings[i] belongs to texts[i].
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries one vector plus token usage and the descriptor that produced it.
type EmbeddingResult struct {
	Embedding   []float32
	TotalTokens int
	ServedBy    string
}

// BatchEmbeddingResult carries the vectors for a batch and aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32
	TotalTokens int
	ServedBy    string
}

// EmbedEach embeds texts one by one. Used for providers without a batch endpoint.
func EmbedEach(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	out := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed [%d]: %w", i, err)
		}
		out.Embeddings[i] = res.Embedding
		out.TotalTokens += res.TotalTokens
		out.ServedBy = res.ServedBy
	}
	return out, nil
}

// InstructionEmbedder prefixes every text with a fixed instruction, e.g.
// "search_query: " for asymmetric embedding models.
type InstructionEmbedder struct {
	inner       BatchEmbedder
	instruction string
}

// NewInstructionEmbedder wraps inner. An empty instruction is a passthrough.
func NewInstructionEmbedder(inner BatchEmbedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prefixes text and embeds it as a batch of one.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return EmbeddingResult{}, err
	}
	if len(res.Embeddings) != 1 {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: got %d vectors for 1 text", len(res.Embeddings))
	}
	return EmbeddingResult{
		Embedding:   res.Embeddings[0],
		TotalTokens: res.TotalTokens,
		ServedBy:    res.ServedBy,
	}, nil
}

// BatchEmbed prefixes each text and delegates.
func (e *InstructionEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := texts
	if e.instruction != "" {
		prefixed = make([]string, len(texts))
		for i, t := range texts {
			prefixed[i] = e.instruction + t
		}
	}
	res, err := e.inner.BatchEmbed(ctx, prefixed)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return res, nil
}
