package chunk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/askdex/internal/db"
	"github.com/kailas-cloud/askdex/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "chunk:"

// Hash field names of a stored chunk.
const (
	fieldSourceID = "source_id"
	fieldTitle    = "title"
	fieldSeq      = "seq"
	fieldText     = "text"
	fieldStart    = "start"
	fieldEnd      = "end"
	fieldPending  = "pending"
	fieldVector   = "vector"
)

var returnFields = []string{fieldSourceID, fieldTitle, fieldSeq, fieldText, fieldStart, fieldEnd, fieldPending}

// listPage bounds one FT.SEARCH page when walking a source's chunks.
const listPage = 1000

// store is the consumer interface for chunk storage (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchText(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string, f db.Filter) (int, error)
}

// IndexOptions configures the chunk FT index.
type IndexOptions struct {
	Name        string
	Dimensions  int
	M           int
	EFConstruct int
}

// Filter restricts a search to some sources.
type Filter = domain.SourceFilter

func toDBFilter(f Filter) db.Filter {
	return db.Filter{
		{Field: fieldSourceID, Values: f.Include},
		{Field: fieldSourceID, Values: f.Exclude, Negate: true},
	}
}

// Repo stores chunks as hashes covered by one FT index with vector and text fields.
type Repo struct {
	store store
	opts  IndexOptions
}

// New creates a chunk repository.
func New(s store, opts IndexOptions) *Repo {
	return &Repo{store: s, opts: opts}
}

// EnsureIndex creates the chunk index when it is missing.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.opts.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.opts.Name, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.opts.Name, keyPrefix).
		Tag(fieldSourceID).
		Numeric(fieldSeq).
		Text(fieldText).
		Tag(fieldPending).
		VectorHNSW(fieldVector, r.opts.Dimensions, db.DistanceCosine, r.opts.M, r.opts.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.opts.Name, err)
	}
	return nil
}

// Save writes chunks. Chunks without a vector are stored as pending.
func (r *Repo) Save(ctx context.Context, title string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		fields := map[string]string{
			fieldSourceID: c.SourceID,
			fieldTitle:    title,
			fieldSeq:      strconv.Itoa(c.Index),
			fieldText:     c.Text,
			fieldStart:    strconv.Itoa(c.Start),
			fieldEnd:      strconv.Itoa(c.End),
			fieldPending:  "1",
		}
		if !c.Pending() {
			if len(c.Vector) != r.opts.Dimensions {
				return fmt.Errorf("chunk %s: vector has %d dims, index expects %d", c.ID, len(c.Vector), r.opts.Dimensions)
			}
			fields[fieldPending] = "0"
			fields[fieldVector] = db.EncodeVector(c.Vector)
		}
		items[i] = db.HashSetItem{Key: keyPrefix + c.ID, Fields: fields}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("save %d chunks: %w", len(chunks), err)
	}
	return nil
}

// ListBySource returns the chunks of a source ordered by index, without vectors.
func (r *Repo) ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	return r.list(ctx, db.Filter{{Field: fieldSourceID, Values: []string{sourceID}}})
}

// ListPending returns the chunks of a source still waiting for a vector.
func (r *Repo) ListPending(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	return r.list(ctx, db.Filter{
		{Field: fieldSourceID, Values: []string{sourceID}},
		{Field: fieldPending, Values: []string{"1"}},
	})
}

// CountPending returns how many chunks of a source lack a vector.
func (r *Repo) CountPending(ctx context.Context, sourceID string) (int, error) {
	n, err := r.store.SearchCount(ctx, r.opts.Name, db.Filter{
		{Field: fieldSourceID, Values: []string{sourceID}},
		{Field: fieldPending, Values: []string{"1"}},
	})
	if err != nil {
		return 0, fmt.Errorf("count pending chunks of %s: %w", sourceID, err)
	}
	return n, nil
}

// DeleteBySource removes every chunk of a source.
func (r *Repo) DeleteBySource(ctx context.Context, sourceID string) error {
	chunks, err := r.ListBySource(ctx, sourceID)
	if err != nil {
		return err
	}
	keys := make([]string, len(chunks))
	for i := range chunks {
		keys[i] = keyPrefix + chunks[i].ID
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", sourceID, err)
	}
	return nil
}

// SearchVector returns the k nearest chunks. Scores are cosine similarity.
func (r *Repo) SearchVector(ctx context.Context, vector []float32, k int, f Filter) ([]domain.RetrievedChunk, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		Index:        r.opts.Name,
		Field:        fieldVector,
		Filter:       toDBFilter(f),
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return toRetrieved(res), nil
}

// SearchLexical returns up to k chunks matching any query term. Scores are raw BM25.
func (r *Repo) SearchLexical(ctx context.Context, query string, k int, f Filter) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	res, err := r.store.SearchText(ctx, &db.TextQuery{
		Index:        r.opts.Name,
		Field:        fieldText,
		Query:        query,
		Filter:       toDBFilter(f),
		MatchAny:     true,
		TopK:         k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return toRetrieved(res), nil
}

func (r *Repo) list(ctx context.Context, f db.Filter) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for offset := 0; ; offset += listPage {
		res, err := r.store.SearchList(ctx, &db.ListQuery{
			Index:        r.opts.Name,
			Filter:       f,
			SortBy:       fieldSeq,
			Offset:       offset,
			Limit:        listPage,
			ReturnFields: returnFields,
		})
		if err != nil {
			return nil, fmt.Errorf("list chunks: %w", err)
		}
		for _, e := range res.Entries {
			out = append(out, toChunk(e))
		}
		if len(res.Entries) < listPage || offset+listPage >= res.Total {
			return out, nil
		}
	}
}

func toChunk(e db.SearchEntry) domain.Chunk {
	seq, _ := strconv.Atoi(e.Fields[fieldSeq])
	start, _ := strconv.Atoi(e.Fields[fieldStart])
	end, _ := strconv.Atoi(e.Fields[fieldEnd])
	return domain.Chunk{
		ID:       strings.TrimPrefix(e.Key, keyPrefix),
		SourceID: e.Fields[fieldSourceID],
		Index:    seq,
		Text:     e.Fields[fieldText],
		Start:    start,
		End:      end,
	}
}

func toRetrieved(res *db.SearchResult) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, 0, len(res.Entries))
	for _, e := range res.Entries {
		c := toChunk(e)
		out = append(out, domain.RetrievedChunk{
			ChunkID:     c.ID,
			SourceID:    c.SourceID,
			SourceTitle: e.Fields[fieldTitle],
			ChunkIndex:  c.Index,
			Text:        c.Text,
			Score:       e.Score,
		})
	}
	return out
}
