// Package anthropic adapts the Anthropic Messages API to the gateway provider
// contract. Anthropic has no embedding endpoint.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/transport/llmhttp"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024
	defaultTimeout   = 120 * time.Second
)

// Config holds the provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls /v1/messages.
type Client struct {
	http *llmhttp.Client
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// New creates an Anthropic provider.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{http: &llmhttp.Client{
		HTTP:    &http.Client{Timeout: cfg.Timeout},
		BaseURL: cfg.BaseURL,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
	}}, nil
}

// Generate sends the conversation. System messages are lifted into the
// top-level system field; consecutive ones are joined.
func (c *Client) Generate(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error) {
	var (
		system []string
		msgs   []message
	)
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, message{Role: string(m.Role), Content: m.Content})
	}
	if req.JSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var resp messagesResponse
	err := c.http.PostJSON(ctx, "/v1/messages", messagesRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
	}, &resp)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return domain.GenerateResult{}, fmt.Errorf("anthropic: empty response: %w", domain.ErrProviderError)
	}

	return domain.GenerateResult{
		Text:             sb.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

// Embed is not supported.
func (c *Client) Embed(_ context.Context, _ string, _ []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchEmbeddingResult{}, fmt.Errorf("anthropic embeddings: %w", domain.ErrUnsupportedModality)
}

// HealthCheck lists models, which requires a valid key but costs nothing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.http.GetJSON(ctx, "/v1/models", nil); err != nil {
		return fmt.Errorf("anthropic models: %w", err)
	}
	return nil
}
