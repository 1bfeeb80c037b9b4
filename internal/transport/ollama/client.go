// Package ollama adapts a local Ollama server to the gateway provider contract.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/transport/llmhttp"
)

// DefaultBaseURL is where Ollama listens out of the box.
const DefaultBaseURL = "http://localhost:11434"

// Config holds the provider settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls /api/chat, /api/embed and /api/tags.
type Client struct {
	http *llmhttp.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// New creates an Ollama provider.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{http: &llmhttp.Client{
		HTTP:    &http.Client{Timeout: cfg.Timeout},
		BaseURL: cfg.BaseURL,
	}}
}

// Generate runs a non-streaming chat.
func (c *Client) Generate(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error) {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	creq := chatRequest{Model: model, Messages: msgs}
	if req.JSON {
		creq.Format = "json"
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		creq.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	var resp chatResponse
	if err := c.http.PostJSON(ctx, "/api/chat", creq, &resp); err != nil {
		return domain.GenerateResult{}, fmt.Errorf("ollama chat: %w", err)
	}
	return domain.GenerateResult{
		Text:             resp.Message.Content,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// Embed uses the batch /api/embed endpoint.
func (c *Client) Embed(ctx context.Context, model string, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	var resp embedResponse
	if err := c.http.PostJSON(ctx, "/api/embed", embedRequest{Model: model, Input: texts}, &resp); err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("ollama embed: got %d vectors for %d texts: %w",
			len(resp.Embeddings), len(texts), domain.ErrProviderError)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:  resp.Embeddings,
		TotalTokens: resp.PromptEvalCount,
	}, nil
}

// HealthCheck lists local models.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.http.GetJSON(ctx, "/api/tags", nil); err != nil {
		return fmt.Errorf("ollama tags: %w", err)
	}
	return nil
}
