package domain

import (
	"fmt"
	"strings"
)

// Visibility controls how much of an item reaches the model.
type Visibility string

const (
	// VisibilityFull sends the whole text.
	VisibilityFull Visibility = "full"
	// VisibilitySummary sends only the summary.
	VisibilitySummary Visibility = "summary"
	// VisibilityExcluded sends nothing.
	VisibilityExcluded Visibility = "excluded"
)

// ParseVisibility maps a wire value to a Visibility. Empty means excluded.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VisibilityExcluded, nil
	case VisibilityFull, VisibilitySummary, VisibilityExcluded:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown context level %q", ErrInvalidInput, s)
	}
}

// ContextItem selects one source or note and its visibility for a request.
// Position in the selection list is the recency order: later items were
// referenced more recently.
type ContextItem struct {
	ID         string     `json:"id"`
	Kind       ItemKind   `json:"kind"`
	Visibility Visibility `json:"level"`
}

// ContextSelection is the ordered list of items a request may use.
type ContextSelection []ContextItem

// Excluded returns the ids explicitly excluded.
func (s ContextSelection) Excluded() []string {
	var ids []string
	for _, it := range s {
		if it.Visibility == VisibilityExcluded {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Recency maps item id to its recency rank; higher is more recent.
func (s ContextSelection) Recency() map[string]int {
	m := make(map[string]int, len(s))
	for i, it := range s {
		m[it.ID] = i + 1
	}
	return m
}
