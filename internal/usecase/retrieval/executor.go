// Package retrieval runs the sub-queries of a search strategy against the
// chunk index and ranks the merged hits.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// Index is the chunk index consumed by the executor.
type Index interface {
	SearchVector(ctx context.Context, vector []float32, k int, f domain.SourceFilter) ([]domain.RetrievedChunk, error)
	SearchLexical(ctx context.Context, query string, k int, f domain.SourceFilter) ([]domain.RetrievedChunk, error)
}

// Embedder vectorizes a query.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Options tunes ranking and fan-out.
type Options struct {
	MinScore float64
	TopN     int // per sub-query
	TopK     int // across all sub-queries
	// Concurrency caps in-flight index and embedding calls.
	Concurrency int
	// LexicalSaturation maps a raw BM25 score s to s/(s+LexicalSaturation).
	// A lexical hit clears MinScore only when s >= LexicalSaturation*MinScore/(1-MinScore).
	LexicalSaturation float64
}

// DefaultLexicalSaturation puts the 0.2 threshold at a raw BM25 score of 1.
const DefaultLexicalSaturation = 4

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{MinScore: 0.2, TopN: 10, TopK: 20, Concurrency: 4, LexicalSaturation: DefaultLexicalSaturation}
}

// Result holds the hits per sub-query, in strategy order, and the global top-K.
type Result struct {
	PerQuery []domain.QueryResults
	Global   []domain.RetrievedChunk
}

// Empty reports whether no sub-query produced a hit.
func (r Result) Empty() bool {
	return len(r.Global) == 0
}

// Executor runs strategies.
type Executor struct {
	index  Index
	embed  Embedder
	opts   Options
	logger *zap.Logger
}

// New creates an executor. embed may be nil for lexical-only retrieval.
func New(index Index, embed Embedder, opts Options, logger *zap.Logger) *Executor {
	def := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.LexicalSaturation <= 0 {
		opts.LexicalSaturation = def.LexicalSaturation
	}
	return &Executor{index: index, embed: embed, opts: opts, logger: logger}
}

// modality results of one sub-query.
type queryHits struct {
	vector, lexical       []domain.RetrievedChunk
	vectorErr, lexicalErr error
}

// Execute runs every sub-query with both vector and lexical search. A
// sub-query fails only when both searches fail. Sources the selection marks
// excluded or summary-only are never searched.
func (e *Executor) Execute(ctx context.Context, strategy domain.SearchStrategy, sel domain.ContextSelection) (Result, error) {
	log := logger.FromContextOr(ctx, e.logger)
	filter := domain.SourceFilter{Exclude: hidden(sel)}
	recency := sel.Recency()

	found := make([]queryHits, len(strategy.Queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, q := range strategy.Queries {
		if e.embed != nil {
			g.Go(func() error {
				found[i].vector, found[i].vectorErr = e.searchVector(gctx, q.Term, filter)
				return nil
			})
		} else {
			found[i].vectorErr = errors.New("no query embedder")
		}
		g.Go(func() error {
			found[i].lexical, found[i].lexicalErr = e.searchLexical(gctx, q.Term, filter)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{PerQuery: make([]domain.QueryResults, len(strategy.Queries))}
	var all []domain.RetrievedChunk
	for i, q := range strategy.Queries {
		h := found[i]
		if h.vectorErr != nil && h.lexicalErr != nil {
			return Result{}, fmt.Errorf("retrieve %q: %w", q.Term, errors.Join(h.vectorErr, h.lexicalErr))
		}
		if h.vectorErr != nil {
			log.Warn("Vector search failed, using lexical results only", zap.String("term", q.Term), zap.Error(h.vectorErr))
		}
		if h.lexicalErr != nil {
			log.Warn("Lexical search failed, using vector results only", zap.String("term", q.Term), zap.Error(h.lexicalErr))
		}

		merged := e.rank(append(h.vector, h.lexical...), recency, e.opts.TopN)
		res.PerQuery[i] = domain.QueryResults{Query: q, Results: merged}
		all = append(all, merged...)
	}
	res.Global = e.rank(all, recency, e.opts.TopK)

	log.Debug("Retrieval finished",
		zap.Int("queries", len(strategy.Queries)),
		zap.Int("global_hits", len(res.Global)),
	)
	return res, nil
}

func (e *Executor) searchVector(ctx context.Context, term string, f domain.SourceFilter) ([]domain.RetrievedChunk, error) {
	emb, err := e.embed.Embed(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.index.SearchVector(ctx, emb.Embedding, e.opts.TopN, f)
}

func (e *Executor) searchLexical(ctx context.Context, term string, f domain.SourceFilter) ([]domain.RetrievedChunk, error) {
	out, err := e.index.SearchLexical(ctx, term, e.opts.TopN, f)
	if err != nil {
		return nil, err
	}
	for i := range out {
		s := max(out[i].Score, 0)
		out[i].Score = s / (s + e.opts.LexicalSaturation)
	}
	return out, nil
}

// rank dedupes by chunk id keeping the best score, drops hits below the
// threshold, sorts and cuts to limit.
func (e *Executor) rank(in []domain.RetrievedChunk, recency map[string]int, limit int) []domain.RetrievedChunk {
	best := make(map[string]domain.RetrievedChunk, len(in))
	for _, c := range in {
		if prev, ok := best[c.ChunkID]; !ok || c.Score > prev.Score {
			best[c.ChunkID] = c
		}
	}
	out := make([]domain.RetrievedChunk, 0, len(best))
	dropped := 0
	for _, c := range best {
		if c.Score < e.opts.MinScore {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		metrics.RetrievalFilteredTotal.Add(float64(dropped))
	}
	Sort(out, recency)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Sort orders hits by score, then by the recency of their source in the
// selection, then by chunk index, then by chunk id.
func Sort(hits []domain.RetrievedChunk, recency map[string]int) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := recency[a.SourceID], recency[b.SourceID]; ra != rb {
			return ra > rb
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})
}

// hidden lists the sources whose chunks must not be retrieved. The last
// occurrence of an id decides its level.
func hidden(sel domain.ContextSelection) []string {
	level := make(map[string]domain.Visibility, len(sel))
	for _, it := range sel {
		level[it.ID] = it.Visibility
	}
	var ids []string
	for _, it := range sel {
		if v, ok := level[it.ID]; ok && v != domain.VisibilityFull {
			ids = append(ids, it.ID)
			delete(level, it.ID)
		}
	}
	return ids
}
