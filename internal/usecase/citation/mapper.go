// Package citation resolves [n] markers in generated text to the chunks
// that were sent to the model.
package citation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// markerRE matches [1] and grouped forms like [1, 3], with one optional
// leading space so a dropped marker does not leave a double space behind.
var markerRE = regexp.MustCompile(`( ?)\[(\d{1,3}(?:\s*,\s*\d{1,3})*)\]`)

// Mapper resolves citation markers against an evidence list.
type Mapper struct {
	logger *zap.Logger
}

// NewMapper creates a mapper.
func NewMapper(logger *zap.Logger) *Mapper {
	return &Mapper{logger: logger}
}

// Render formats evidence as the numbered list the model cites from.
// Marker [n] refers to evidence[n-1].
func Render(evidence []domain.RetrievedChunk) string {
	var sb strings.Builder
	for i, c := range evidence {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := c.SourceTitle
		if label == "" {
			label = c.SourceID
		}
		fmt.Fprintf(&sb, "[%d] %s (chunk %d)\n%s", i+1, label, c.ChunkIndex, strings.TrimSpace(c.Text))
	}
	return sb.String()
}

// Map rewrites the markers in text so they are numbered 1, 2, 3... in order
// of first appearance and returns the citation list. A marker that does not
// point into evidence is removed and logged.
func (m *Mapper) Map(ctx context.Context, text string, evidence []domain.RetrievedChunk) domain.CitedAnswer {
	var (
		cites   []domain.Citation
		dropped []int
	)
	assigned := make(map[int]int)
	out := Rewrite(text, func(n int) (int, bool) {
		if n < 1 || n > len(evidence) {
			dropped = append(dropped, n)
			return 0, false
		}
		if k, ok := assigned[n]; ok {
			return k, true
		}
		k := len(cites) + 1
		assigned[n] = k
		cites = append(cites, domain.Citation{Number: k, Refs: []domain.ChunkRef{evidence[n-1].Ref()}})
		return k, true
	})

	if len(dropped) > 0 {
		log := logger.FromContextOr(ctx, m.logger)
		for _, n := range dropped {
			log.Warn("Dropped unresolvable citation", zap.Int("marker", n), zap.Int("evidence", len(evidence)))
		}
		metrics.CitationsDroppedTotal.Add(float64(len(dropped)))
	}
	if cites == nil {
		cites = []domain.Citation{}
	}
	return domain.CitedAnswer{Text: out, Citations: cites}
}

// Rewrite replaces every number inside every marker with fn(n). Numbers for
// which fn reports false are removed, as is a marker left empty. Repeated
// numbers inside one marker collapse.
func Rewrite(text string, fn func(n int) (int, bool)) string {
	return markerRE.ReplaceAllStringFunc(text, func(tok string) string {
		sub := markerRE.FindStringSubmatch(tok)
		lead, body := sub[1], sub[2]

		var kept []string
		seen := make(map[int]bool)
		for _, part := range strings.Split(body, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			k, ok := fn(n)
			if !ok || seen[k] {
				continue
			}
			seen[k] = true
			kept = append(kept, strconv.Itoa(k))
		}
		if len(kept) == 0 {
			return ""
		}
		return lead + "[" + strings.Join(kept, ", ") + "]"
	})
}
