package db

// TagFilter matches documents whose tag field holds any of Values.
// Negate inverts the match.
type TagFilter struct {
	Field  string
	Values []string
	Negate bool
}

// Filter is a conjunction of tag filters.
type Filter []TagFilter

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	for _, t := range f {
		if len(t.Values) > 0 {
			return false
		}
	}
	return true
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	Index        string
	Field        string
	Filter       Filter
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for full-text search.
type TextQuery struct {
	Index  string
	Field  string
	Query  string
	Filter Filter
	// MatchAny ORs the query terms instead of requiring all of them.
	MatchAny     bool
	TopK         int
	ReturnFields []string
}

// ListQuery pages through documents matching a filter.
type ListQuery struct {
	Index        string
	Filter       Filter
	SortBy       string
	Offset       int
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
