// Package planner turns a question into a search strategy.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// Generator is the slice of the model gateway the planner needs.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error)
}

const systemPrompt = `You plan searches over a private knowledge base.
Break the user's question into between 2 and 5 independent searches. Each search
targets one aspect of the question, e.g. one side of a comparison. Tag each search
with its intent: "factual" for a lookup, "comparison" when it weighs things against
each other, "synthesis" when it gathers material across sources.

Reply with a JSON object only:
{"reasoning": "<why these searches>", "searches": [{"term": "<search text>", "instructions": "<what to extract from the results>", "intent": "factual"}]}`

// strategySchema is the shape the model must return.
var strategySchema = map[string]any{
	"type":     "object",
	"required": []any{"searches"},
	"properties": map[string]any{
		"reasoning": map[string]any{"type": "string"},
		"searches": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"term"},
				"properties": map[string]any{
					"term":         map[string]any{"type": "string", "minLength": 1},
					"instructions": map[string]any{"type": "string"},
					"intent": map[string]any{
						"type": "string",
						"enum": []any{string(domain.IntentFactual), string(domain.IntentComparison), string(domain.IntentSynthesis)},
					},
				},
			},
		},
	},
}

var schemaLoader = gojsonschema.NewGoLoader(strategySchema)

// Cue phrases that mark a question as needing decomposition.
var (
	comparisonCue = regexp.MustCompile(`(?i)\b(compare|comparison|comparing|versus|vs\.?|differences?\s+between|differ|contrast|similarit(y|ies)\s+between|pros\s+and\s+cons|better\s+than|worse\s+than)\b`)
	synthesisCue  = regexp.MustCompile(`(?i)\b(summari[sz]e|overview|across|themes?|relationship\s+between|how\s+do\s+.+\s+relate|all\s+the)\b`)
)

// Planner builds SearchStrategies.
type Planner struct {
	gen       Generator
	maxTokens int
	logger    *zap.Logger
}

// New creates a planner. gen may be nil, in which case every question is
// planned as a single search.
func New(gen Generator, logger *zap.Logger) *Planner {
	return &Planner{gen: gen, maxTokens: 800, logger: logger}
}

// Classify guesses the intent of question from cue phrases.
func Classify(question string) domain.Intent {
	switch {
	case comparisonCue.MatchString(question):
		return domain.IntentComparison
	case synthesisCue.MatchString(question):
		return domain.IntentSynthesis
	default:
		return domain.IntentFactual
	}
}

// Plan returns a strategy with at least one sub-query. model pins the
// planning model when not empty. Decomposition failures are logged and
// degrade to the question itself; only cancellation is returned.
func (p *Planner) Plan(ctx context.Context, question, model string) (domain.SearchStrategy, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.SearchStrategy{}, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	intent := Classify(question)
	if intent == domain.IntentFactual || p.gen == nil {
		s := domain.SearchStrategy{Intent: intent, Reasoning: "Single search for the question."}
		s.Normalize(question)
		return s, nil
	}

	s, err := p.decompose(ctx, question, model)
	if err != nil {
		if ctx.Err() != nil {
			return domain.SearchStrategy{}, ctx.Err()
		}
		p.logger.Warn("Strategy decomposition failed, using the question", zap.Error(err))
		s = domain.SearchStrategy{Reasoning: "Decomposition unavailable; searching for the question."}
	}
	s.Intent = intent
	s.Normalize(question)
	return s, nil
}

func (p *Planner) decompose(ctx context.Context, question, model string) (domain.SearchStrategy, error) {
	res, err := p.gen.Generate(ctx, domain.GenerateRequest{
		Task:  domain.TaskTools,
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: systemPrompt},
			{Role: domain.RoleUser, Content: question},
		},
		MaxTokens: p.maxTokens,
		JSON:      true,
	})
	if err != nil {
		return domain.SearchStrategy{}, fmt.Errorf("generate strategy: %w", err)
	}
	return Parse(res.Text)
}

// Parse extracts and validates a strategy from model output. The output may
// be wrapped in a code fence or surrounded by prose.
func Parse(text string) (domain.SearchStrategy, error) {
	raw := extractObject(text)
	if raw == "" {
		return domain.SearchStrategy{}, fmt.Errorf("no JSON object in model output")
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return domain.SearchStrategy{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return domain.SearchStrategy{}, fmt.Errorf("strategy failed validation: %s", strings.Join(details, "; "))
	}
	var s domain.SearchStrategy
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.SearchStrategy{}, fmt.Errorf("decode strategy: %w", err)
	}
	return s, nil
}

// extractObject returns the first balanced {...} in text, ignoring braces
// inside JSON strings.
func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
