package domain

import "strings"

// Intent classifies what a question asks for.
type Intent string

const (
	IntentFactual    Intent = "factual"
	IntentComparison Intent = "comparison"
	IntentSynthesis  Intent = "synthesis"
)

// MaxSubQueries caps the plan size for any question.
const MaxSubQueries = 5

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentFactual, IntentComparison, IntentSynthesis:
		return true
	}
	return false
}

// SubQuery is one independent retrieval target.
type SubQuery struct {
	Term         string `json:"term"`
	Instructions string `json:"instructions"`
	Intent       Intent `json:"intent,omitempty"`
}

// SearchStrategy is the planner's output. Queries is never empty.
type SearchStrategy struct {
	Reasoning string     `json:"reasoning"`
	Intent    Intent     `json:"intent"`
	Queries   []SubQuery `json:"searches"`
}

// Normalize trims terms, drops empty and duplicate ones, and caps the list.
// When nothing usable is left the question itself becomes the only sub-query.
// Sub-queries without a known intent take the strategy's intent.
func (s *SearchStrategy) Normalize(question string) {
	if !s.Intent.Valid() {
		s.Intent = IntentFactual
	}
	seen := make(map[string]struct{}, len(s.Queries))
	out := s.Queries[:0]
	for _, q := range s.Queries {
		q.Term = strings.TrimSpace(q.Term)
		if q.Term == "" {
			continue
		}
		key := strings.ToLower(q.Term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !q.Intent.Valid() {
			q.Intent = s.Intent
		}
		out = append(out, q)
		if len(out) == MaxSubQueries {
			break
		}
	}
	s.Queries = out
	if len(s.Queries) == 0 {
		s.Queries = []SubQuery{{
			Term:         strings.TrimSpace(question),
			Instructions: "Answer the question directly.",
			Intent:       s.Intent,
		}}
	}
}
