package domain

import "strings"

// ManifestEntry records what one context item contributed to a payload.
type ManifestEntry struct {
	ID         string     `json:"id"`
	Kind       ItemKind   `json:"kind"`
	Visibility Visibility `json:"level"`
	Chars      int        `json:"chars"`
	Tokens     int        `json:"tokens"`
	Partial    bool       `json:"partial,omitempty"`
	Omitted    bool       `json:"omitted,omitempty"`
}

// ContextManifest lists every context item and what it contributed.
type ContextManifest struct {
	Entries     []ManifestEntry `json:"entries"`
	TotalTokens int             `json:"total_tokens"`
	Budget      int             `json:"budget"`
	Truncated   bool            `json:"truncated"`
}

// Section is one rendered block of the context payload.
type Section struct {
	ID      string
	Kind    ItemKind
	Label   string
	Level   Visibility
	Content string
}

// ContextPayload is the assembled, budget-bounded context.
type ContextPayload struct {
	Sections []Section
	Manifest ContextManifest
}

// Render formats the section the way it is sent to the model.
func (s Section) Render() string {
	return "### [" + string(s.Kind) + ":" + s.ID + "] " + s.Label + " (" + string(s.Level) + ")\n" + s.Content
}

// Render joins all sections.
func (p ContextPayload) Render() string {
	var sb strings.Builder
	for i, s := range p.Sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Render())
	}
	return sb.String()
}
