// Package openai adapts any OpenAI-compatible API (OpenAI, Nebius, vLLM, ...)
// to the gateway provider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/transport/llmhttp"
)

// Config holds the provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// User is forwarded for upstream abuse tracking.
	User string
}

// Client talks to one OpenAI-compatible endpoint. The model is chosen per call.
type Client struct {
	client *openai.Client
	user   string
}

// New creates an OpenAI-compatible provider.
func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		user:   cfg.User,
	}
}

// Generate runs a chat completion.
func (c *Client) Generate(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		User:        c.user,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return domain.GenerateResult{}, parseAPIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerateResult{}, fmt.Errorf("empty completion response: %w", domain.ErrProviderError)
	}

	return domain.GenerateResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Embed vectorizes texts in one request. The API may return data out of
// order, so vectors are placed by their index field.
func (c *Client) Embed(ctx context.Context, model string, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           c.user,
	})
	if err != nil {
		return domain.BatchEmbeddingResult{}, parseAPIError(ctx, err)
	}
	if len(resp.Data) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("got %d embeddings for %d texts: %w",
			len(resp.Data), len(texts), domain.ErrProviderError)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding index %d out of range: %w",
				d.Index, domain.ErrProviderError)
		}
		out[d.Index] = d.Embedding
	}

	return domain.BatchEmbeddingResult{
		Embeddings:  out,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", parseAPIError(ctx, err))
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response and
// wraps it with the matching domain error.
func parseAPIError(ctx context.Context, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return llmhttp.StatusError(reqErr.HTTPStatusCode, detail)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llmhttp.StatusError(apiErr.HTTPStatusCode, apiErr.Message)
	}

	return llmhttp.Classify(ctx, err)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
