package ingest

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// DefaultSummaryWords is the target summary length.
const DefaultSummaryWords = 120

// summaryInputWords caps how much of a source goes into the summary prompt.
const summaryInputWords = 6000

// Generator is the slice of the model gateway the summarizer needs.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error)
}

// Summarizer produces the text used for the summary visibility level. It
// asks the transformation model first and falls back to an extractive
// frequency summary when no model is configured or the call fails.
type Summarizer struct {
	gen    Generator
	words  int
	freq   *frequencySummarizer
	logger *zap.Logger
}

// NewSummarizer creates a summarizer. gen may be nil.
func NewSummarizer(gen Generator, words int, logger *zap.Logger) *Summarizer {
	if words <= 0 {
		words = DefaultSummaryWords
	}
	return &Summarizer{gen: gen, words: words, freq: newFrequencySummarizer(), logger: logger}
}

// Summarize never fails: the extractive path always yields something.
func (s *Summarizer) Summarize(ctx context.Context, title, text string) string {
	if s.gen != nil {
		out, err := s.generate(ctx, title, text)
		if err == nil && out != "" {
			return out
		}
		if ctx.Err() == nil {
			s.logger.Warn("Model summary failed, using extractive summary", zap.Error(err))
		}
	}
	return s.freq.summarize(text, s.words)
}

func (s *Summarizer) generate(ctx context.Context, title, text string) (string, error) {
	words := strings.Fields(text)
	if len(words) > summaryInputWords {
		text = strings.Join(words[:summaryInputWords], " ")
	}

	prompt := fmt.Sprintf(
		"Summarize the following document in at most %d words. "+
			"Keep names, numbers and conclusions. Reply with the summary only.\n\n"+
			"Title: %s\n\n%s", s.words, title, text)

	res, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Task:     domain.TaskTransformation,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// frequencySummarizer ranks sentences by normalized content-word frequency
// and keeps the best ones, in document order, until the word budget is spent.
type frequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

func newFrequencySummarizer() *frequencySummarizer {
	return &frequencySummarizer{
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`),
		stopwords:       stopwords(),
	}
}

func (f *frequencySummarizer) summarize(text string, maxWords int) string {
	var sentences []string
	for _, s := range f.sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return truncateWords(strings.TrimSpace(text), maxWords)
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, sent := range sentences {
		for _, tok := range f.tokens(sent) {
			if _, stop := f.stopwords[tok]; stop {
				continue
			}
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := f.tokens(sent)
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok]
		}
		if maxF > 0 {
			sum /= maxF
		}
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var picked []int
	budget := maxWords
	for _, r := range ranked {
		n := len(strings.Fields(sentences[r.idx]))
		if n > budget {
			if len(picked) == 0 {
				return truncateWords(sentences[r.idx], maxWords)
			}
			continue
		}
		picked = append(picked, r.idx)
		budget -= n
	}
	sort.Ints(picked)

	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func (f *frequencySummarizer) tokens(text string) []string {
	return f.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "…"
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on",
		"at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its",
		"this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "than",
		"so", "such", "into", "about", "between", "through", "during", "before", "after", "out",
		"can", "will", "just", "should", "now", "we", "you", "they", "he", "she", "i", "not", "no",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
