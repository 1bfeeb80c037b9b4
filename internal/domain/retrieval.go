package domain

// RetrievedChunk is a scored hit for one sub-query. Score is in [0,1].
type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	SourceID    string  `json:"source_id"`
	SourceTitle string  `json:"source_title,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

// Ref returns the chunk reference of the hit.
func (r RetrievedChunk) Ref() ChunkRef {
	return ChunkRef{SourceID: r.SourceID, ChunkID: r.ChunkID}
}

// QueryResults groups the hits of one sub-query.
type QueryResults struct {
	Query   SubQuery         `json:"query"`
	Results []RetrievedChunk `json:"results"`
}

// SourceFilter restricts a search to some sources. Empty lists do not filter.
type SourceFilter struct {
	Include []string
	Exclude []string
}
