package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemKind distinguishes ingested documents from user notes.
type ItemKind string

const (
	// KindSource is an ingested document.
	KindSource ItemKind = "source"
	// KindNote is a user-authored note.
	KindNote ItemKind = "note"
)

// IsValid reports whether k is a known kind.
func (k ItemKind) IsValid() bool {
	return k == KindSource || k == KindNote
}

// EmbeddingStatus tracks the ingestion state of a Source.
type EmbeddingStatus string

const (
	// StatusPending means the source is queued.
	StatusPending EmbeddingStatus = "pending"
	// StatusProcessing means a worker is chunking and embedding it.
	StatusProcessing EmbeddingStatus = "processing"
	// StatusEmbedded means every chunk carries a vector.
	StatusEmbedded EmbeddingStatus = "embedded"
	// StatusPartial means some chunks are still waiting for a vector.
	StatusPartial EmbeddingStatus = "partial"
	// StatusFailed means no chunk could be embedded.
	StatusFailed EmbeddingStatus = "failed"
)

// Source is an ingested document or note. Text is immutable once created.
type Source struct {
	ID            string          `json:"id"`
	Kind          ItemKind        `json:"kind"`
	Title         string          `json:"title,omitempty"`
	Text          string          `json:"text"`
	Summary       string          `json:"summary,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Status        EmbeddingStatus `json:"status"`
	ChunkCount    int             `json:"chunk_count"`
	PendingChunks int             `json:"pending_chunks"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Embedded reports whether every chunk of the source has a vector.
func (s *Source) Embedded() bool {
	return s.Status == StatusEmbedded
}

// Label is the human-readable heading used in prompts.
func (s *Source) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// Validate checks the fields required at submission time.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, s.Kind)
	}
	if s.ID != "" && !IsValidID(s.ID) {
		return fmt.Errorf("%w: id must match [a-zA-Z0-9_-]{1,64}", ErrInvalidInput)
	}
	return nil
}

// IsValidID reports whether id is safe to embed in index keys and tag queries.
func IsValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !isAlpha && !isDigit && r != '_' && r != '-' {
			return false
		}
	}
	return true
}
