package domain

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is a provider-neutral generation call.
type GenerateRequest struct {
	Task     Task
	Messages []Message
	// Model pins a descriptor id. A pinned request never falls back.
	Model       string
	MaxTokens   int
	Temperature float32
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// PromptTokens estimates the request size for large-context routing.
func (r GenerateRequest) PromptTokens() int {
	n := 0
	for _, m := range r.Messages {
		n += EstimateTokens(m.Content)
	}
	return n
}

// GenerateResult is the provider-neutral generation output.
type GenerateResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	// ServedBy is the descriptor id that produced Text.
	ServedBy string
	// FellBack is true when the primary candidate failed.
	FellBack bool
}
