package domain

import "fmt"

// Chunk is a contiguous span of a Source's text, the unit of retrieval.
type Chunk struct {
	ID       string
	SourceID string
	Index    int
	Text     string
	// Start and End are byte offsets of Text inside the normalized source text.
	Start  int
	End    int
	Vector []float32
}

// Pending reports whether the chunk still needs an embedding.
func (c *Chunk) Pending() bool {
	return len(c.Vector) == 0
}

// ChunkID derives the deterministic id of the chunk at index seq.
func ChunkID(sourceID string, seq int) string {
	return fmt.Sprintf("%s-%04d", sourceID, seq)
}

// ChunkRef points at one chunk of one source.
type ChunkRef struct {
	SourceID string `json:"source_id"`
	ChunkID  string `json:"chunk_id"`
}
