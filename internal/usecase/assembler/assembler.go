// Package assembler builds the budget-bounded context payload from a
// selection of sources and notes.
package assembler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// DefaultBudget is the context budget in estimated tokens.
const DefaultBudget = 8000

// SourceReader loads source records.
type SourceReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]*domain.Source, error)
}

// ChunkLister loads the chunks of one source in index order.
type ChunkLister interface {
	ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error)
}

// Assembler renders context items into sections without exceeding the budget.
type Assembler struct {
	sources SourceReader
	chunks  ChunkLister
	budget  int
	logger  *zap.Logger
}

// New creates an assembler. budget <= 0 uses DefaultBudget.
func New(sources SourceReader, chunks ChunkLister, budget int, logger *zap.Logger) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Assembler{sources: sources, chunks: chunks, budget: budget, logger: logger}
}

// Budget returns the default budget.
func (a *Assembler) Budget() int { return a.budget }

// Assemble renders sel within budget tokens (<= 0 uses the default).
//
// Excluded items are dropped before anything is loaded. Full items go first,
// then summaries, each group in selection order. Items are added until one
// does not fit; that item is cut at the last chunk boundary that fits and
// marked partial, and every later item is omitted.
func (a *Assembler) Assemble(ctx context.Context, sel domain.ContextSelection, budget int) (domain.ContextPayload, error) {
	if budget <= 0 {
		budget = a.budget
	}
	items := dedupe(sel)

	entries := make([]domain.ManifestEntry, len(items))
	var full, summary []int
	var ids []string
	for i, it := range items {
		entries[i] = domain.ManifestEntry{ID: it.ID, Kind: it.Kind, Visibility: it.Visibility}
		switch it.Visibility {
		case domain.VisibilityFull:
			full = append(full, i)
			ids = append(ids, it.ID)
		case domain.VisibilitySummary:
			summary = append(summary, i)
			ids = append(ids, it.ID)
		}
	}

	payload := domain.ContextPayload{Manifest: domain.ContextManifest{Budget: budget}}
	if len(ids) == 0 {
		payload.Manifest.Entries = entries
		return payload, nil
	}

	srcs, err := a.sources.GetMany(ctx, ids)
	if err != nil {
		return domain.ContextPayload{}, fmt.Errorf("load context sources: %w", err)
	}

	remaining := budget
	stopped := false
	for _, idx := range append(full, summary...) {
		it := items[idx]
		entry := &entries[idx]
		if stopped {
			entry.Omitted = true
			continue
		}

		src, ok := srcs[it.ID]
		if !ok {
			a.logger.Warn("Context item not found", zap.String("id", it.ID))
			entry.Omitted = true
			continue
		}
		if entry.Kind == "" {
			entry.Kind = src.Kind
		}

		var (
			sec      domain.Section
			tokens   int
			overflow bool
		)
		if it.Visibility == domain.VisibilityFull {
			sec, tokens, overflow, err = a.fitFull(ctx, src, remaining)
			if err != nil {
				return domain.ContextPayload{}, err
			}
		} else {
			sec, tokens, overflow = fitSummary(src, remaining)
		}

		if sec.Content == "" {
			entry.Omitted = true
		} else {
			payload.Sections = append(payload.Sections, sec)
			entry.Chars = len(sec.Content)
			entry.Tokens = tokens
			entry.Partial = overflow
			remaining -= tokens
			payload.Manifest.TotalTokens += tokens
		}
		if overflow {
			stopped = true
		}
	}

	payload.Manifest.Entries = entries
	payload.Manifest.Truncated = stopped
	if stopped {
		metrics.ContextTruncationsTotal.Inc()
		a.logger.Warn("Context budget exceeded",
			zap.Int("budget", budget),
			zap.Int("used", payload.Manifest.TotalTokens),
		)
	}
	return payload, nil
}

// fitFull renders the whole text of src, or the longest prefix ending at a
// chunk boundary that fits in remaining tokens. The bool reports an overflow.
func (a *Assembler) fitFull(ctx context.Context, src *domain.Source, remaining int) (domain.Section, int, bool, error) {
	sec := domain.Section{ID: src.ID, Kind: src.Kind, Label: src.Label(), Level: domain.VisibilityFull}

	sec.Content = src.Text
	if t := domain.EstimateTokens(sec.Render()); t <= remaining {
		return sec, t, false, nil
	}

	chunks, err := a.chunks.ListBySource(ctx, src.ID)
	if err != nil {
		return domain.Section{}, 0, false, fmt.Errorf("load chunks of %s: %w", src.ID, err)
	}

	best, bestTokens := "", 0
	for _, c := range chunks {
		if c.End > len(src.Text) || c.End <= 0 {
			break
		}
		sec.Content = src.Text[:c.End]
		t := domain.EstimateTokens(sec.Render())
		if t > remaining {
			break
		}
		best, bestTokens = sec.Content, t
	}
	sec.Content = best
	return sec, bestTokens, true, nil
}

// fitSummary includes the summary whole or not at all. The bool reports an
// overflow.
func fitSummary(src *domain.Source, remaining int) (domain.Section, int, bool) {
	sec := domain.Section{ID: src.ID, Kind: src.Kind, Label: src.Label(), Level: domain.VisibilitySummary, Content: src.Summary}
	if sec.Content == "" {
		return domain.Section{}, 0, false
	}
	t := domain.EstimateTokens(sec.Render())
	if t > remaining {
		return domain.Section{}, 0, true
	}
	return sec, t, false
}

// dedupe keeps the last occurrence of each id, which is the most recent.
func dedupe(sel domain.ContextSelection) domain.ContextSelection {
	last := make(map[string]int, len(sel))
	for i, it := range sel {
		last[it.ID] = i
	}
	out := make(domain.ContextSelection, 0, len(last))
	for i, it := range sel {
		if last[it.ID] == i {
			out = append(out, it)
		}
	}
	return out
}
