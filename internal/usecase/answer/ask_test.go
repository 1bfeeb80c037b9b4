package answer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/askdex/internal/domain"
)

const compareStrategy = `{"reasoning":"one per side","searches":[{"term":"A","instructions":"describe A"},{"term":"B","instructions":"describe B"}]}`

func TestAsk_CompareWithMissingEvidence(t *testing.T) {
	f := newFixture()
	f.index.hits["A"] = []domain.RetrievedChunk{chunk("a", 0, 0.15, "A is weakly related.")}
	f.index.hits["B"] = []domain.RetrievedChunk{chunk("b", 0, 0.6, "B handles ten thousand requests per second.")}
	f.gen.fn = byStage{
		strategy: compareStrategy,
		query:    func(term string) (string, error) { return term + " is fast [1].", nil },
		final:    func() (string, error) { return "B is fast [1]. A is slow [2].", nil },
	}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "Compare A and B"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []domain.EventType{
		domain.EventStrategy, domain.EventAnswer, domain.EventAnswer, domain.EventFinalAnswer,
	}, types(events))

	strategy := events[0].Strategy
	require.Len(t, strategy.Queries, 2)
	assert.Equal(t, domain.IntentComparison, strategy.Intent)

	a := events[1].Answer
	assert.Equal(t, "A", a.Query.Term)
	assert.True(t, a.NoEvidence)
	assert.Empty(t, a.Citations)

	b := events[2].Answer
	assert.Equal(t, "B", b.Query.Term)
	assert.False(t, b.NoEvidence)
	require.Len(t, b.Citations, 1)
	assert.Equal(t, "b", b.Citations[0].Refs[0].SourceID)

	final := events[3].Final
	require.Len(t, final.Citations, 1)
	assert.Equal(t, domain.ChunkRef{SourceID: "b", ChunkID: "b-0000"}, final.Citations[0].Refs[0])
	assert.NotContains(t, final.Text, "[2]")
	assert.Contains(t, final.Text, `Insufficient evidence in the selected sources for: "A".`)
	assert.Equal(t, "model-chat", final.ServedBy)
	assert.Equal(t, domain.StageDone, events[3].Stage)

	// A never reached a per-query model call and its chunk never reached a prompt.
	for _, req := range f.gen.requests() {
		if req.Task == domain.TaskTools && !req.JSON {
			assert.Equal(t, "B", searchTerm(req))
		}
		for _, m := range req.Messages {
			assert.NotContains(t, m.Content, "weakly related")
		}
	}
}

func TestAsk_AnswersEmittedInStrategyOrder(t *testing.T) {
	f := newFixture()
	f.opts.Concurrency = 3
	for _, term := range []string{"slow", "medium", "quick"} {
		f.index.hits[term] = []domain.RetrievedChunk{chunk(term, 0, 0.9, term+" text")}
	}
	delays := map[string]time.Duration{"slow": 60 * time.Millisecond, "medium": 30 * time.Millisecond}
	f.gen.fn = byStage{
		strategy: `{"searches":[{"term":"slow"},{"term":"medium"},{"term":"quick"}]}`,
		query: func(term string) (string, error) {
			time.Sleep(delays[term])
			return term + " answer [1].", nil
		},
	}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "Compare slow, medium and quick"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 5)
	var terms []string
	for _, ev := range events[1:4] {
		require.Equal(t, domain.EventAnswer, ev.Type)
		assert.Equal(t, domain.StageAnswering, ev.Stage)
		terms = append(terms, ev.Answer.Query.Term)
	}
	assert.Equal(t, []string{"slow", "medium", "quick"}, terms)
	assert.Equal(t, domain.StagePlanning, events[0].Stage)
}

func TestAsk_ExcludedSourceNeverSent(t *testing.T) {
	f := newFixture()
	f.sources["x"] = &domain.Source{ID: "x", Kind: domain.KindSource, Text: "SECRET-X launch codes", Summary: "SECRET-X summary"}
	f.sources["y"] = &domain.Source{ID: "y", Kind: domain.KindSource, Text: "Y is a public document."}
	f.index.hits["What does Y say?"] = []domain.RetrievedChunk{
		chunk("x", 0, 0.95, "SECRET-X launch codes"),
		chunk("y", 0, 0.7, "Y is a public document."),
	}
	f.gen.fn = byStage{final: func() (string, error) { return "Y is public [1].", nil }}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{
		Question: "What does Y say?",
		Items: domain.ContextSelection{
			{ID: "x", Visibility: domain.VisibilityExcluded},
			{ID: "y", Visibility: domain.VisibilityFull},
		},
	})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Equal(t, domain.EventFinalAnswer, events[len(events)-1].Type)

	reqs := f.gen.requests()
	require.NotEmpty(t, reqs)
	for _, req := range reqs {
		for _, m := range req.Messages {
			assert.Equal(t, -1, strings.Index(m.Content, "SECRET-X"))
		}
	}

	final := events[len(events)-1].Final
	for _, c := range final.Citations {
		assert.NotEqual(t, "x", c.Refs[0].SourceID)
	}
	require.NotNil(t, final.Manifest)
	require.Len(t, final.Manifest.Entries, 2)
	assert.Equal(t, 0, final.Manifest.Entries[0].Chars)
	assert.Positive(t, final.Manifest.Entries[1].Chars)
}

func TestAsk_NothingFoundSkipsModels(t *testing.T) {
	f := newFixture()
	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "What is Z?"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []domain.EventType{domain.EventStrategy, domain.EventAnswer, domain.EventFinalAnswer}, types(events))
	assert.True(t, events[1].Answer.NoEvidence)
	final := events[2].Final
	assert.True(t, strings.HasPrefix(final.Text, emptyAnswerText))
	assert.Contains(t, final.Text, `for: "What is Z?"`)
	assert.Empty(t, final.Citations)
	assert.Empty(t, f.gen.requests())
}

func TestAsk_FailureAfterAnswers(t *testing.T) {
	f := newFixture()
	f.index.hits["What is B?"] = []domain.RetrievedChunk{chunk("b", 0, 0.8, "B text")}
	f.gen.fn = byStage{final: func() (string, error) { return "", domain.ErrProviderUnavailable }}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "What is B?"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []domain.EventType{domain.EventStrategy, domain.EventAnswer, domain.EventError}, types(events))
	last := events[2]
	assert.Equal(t, domain.StageFailed, last.Stage)
	assert.Equal(t, domain.KindProviderUnavailable, last.Error.Kind)
}

func TestAsk_QueryAnswerFailure(t *testing.T) {
	f := newFixture()
	f.index.hits["What is B?"] = []domain.RetrievedChunk{chunk("b", 0, 0.8, "B text")}
	f.gen.fn = byStage{query: func(string) (string, error) { return "", domain.ErrProviderTimeout }}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "What is B?"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []domain.EventType{domain.EventStrategy, domain.EventError}, types(events))
	assert.Equal(t, domain.KindProviderTimeout, events[1].Error.Kind)
}

func TestAsk_ModelOverridePinsEveryStage(t *testing.T) {
	f := newFixture()
	f.index.hits["A"] = []domain.RetrievedChunk{chunk("a", 0, 0.8, "A text")}
	f.index.hits["B"] = []domain.RetrievedChunk{chunk("b", 0, 0.8, "B text")}
	f.gen.fn = byStage{strategy: compareStrategy}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{
		Question:      "Compare A and B",
		ModelOverride: "pinned",
		AnswerModel:   "ignored",
	})
	require.NoError(t, err)
	collect(t, ch)

	reqs := f.gen.requests()
	require.Len(t, reqs, 4) // strategy, two answers, final
	for _, req := range reqs {
		assert.Equal(t, "pinned", req.Model)
	}
}

func TestAsk_PerStageModels(t *testing.T) {
	f := newFixture()
	f.opts.FinalAnswerModel = "configured-final"
	f.index.hits["A"] = []domain.RetrievedChunk{chunk("a", 0, 0.8, "A text")}
	f.gen.fn = byStage{strategy: `{"searches":[{"term":"A"}]}`}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{
		Question:      "Compare A with itself",
		StrategyModel: "planner",
		AnswerModel:   "answerer",
	})
	require.NoError(t, err)
	collect(t, ch)

	got := map[string]string{}
	for _, req := range f.gen.requests() {
		switch {
		case req.JSON:
			got["strategy"] = req.Model
		case req.Task == domain.TaskTools:
			got["answer"] = req.Model
		default:
			got["final"] = req.Model
		}
	}
	assert.Equal(t, map[string]string{"strategy": "planner", "answer": "answerer", "final": "configured-final"}, got)
}

func TestAsk_SkipQueryAnswers(t *testing.T) {
	f := newFixture()
	f.opts.SkipQueryAnswers = true
	f.index.hits["What is B?"] = []domain.RetrievedChunk{chunk("b", 0, 0.8, "B text")}
	f.gen.fn = byStage{}.generate

	ch, err := f.service().Ask(context.Background(), AskRequest{Question: "What is B?"})
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []domain.EventType{domain.EventStrategy, domain.EventFinalAnswer}, types(events))
	require.Len(t, events[1].Final.Citations, 1)
	assert.NotNil(t, events[1].Final.Usage)
	for _, req := range f.gen.requests() {
		assert.NotEqual(t, domain.TaskTools, req.Task, "no per-query answer is generated")
	}
}

func TestAsk_CancelStopsEvents(t *testing.T) {
	f := newFixture()
	f.index.hits["What is B?"] = []domain.RetrievedChunk{chunk("b", 0, 0.8, "B text")}
	f.gen.fn = func(ctx context.Context, _ domain.GenerateRequest) (domain.GenerateResult, error) {
		<-ctx.Done()
		return domain.GenerateResult{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.service().Ask(ctx, AskRequest{Question: "What is B?"})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, domain.EventStrategy, first.Type)
	cancel()
	assert.Empty(t, collect(t, ch))
}

func TestAsk_ContextWarnings(t *testing.T) {
	f := newFixture()
	f.sources["long"] = &domain.Source{ID: "long", Kind: domain.KindSource, Text: strings.Repeat("word ", 20000)}
	f.opts.ContextBudget = 100

	ch, err := f.service().Ask(context.Background(), AskRequest{
		Question: "What is in long?",
		Items: domain.ContextSelection{
			{ID: "long", Visibility: domain.VisibilityFull},
			{ID: "gone", Visibility: domain.VisibilitySummary},
		},
	})
	require.NoError(t, err)
	events := collect(t, ch)
	final := events[len(events)-1].Final
	require.NotNil(t, final)
	assert.True(t, final.Manifest.Truncated)
	assert.Contains(t, final.Warnings, "Context was truncated to fit the token budget.")
	assert.Contains(t, final.Warnings, `Context item "gone" was omitted.`)
}

func TestAsk_Validation(t *testing.T) {
	s := newFixture().service()
	_, err := s.Ask(context.Background(), AskRequest{Question: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Ask(context.Background(), AskRequest{Question: "q", Items: domain.ContextSelection{{ID: "a", Visibility: "everything"}}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Ask(context.Background(), AskRequest{Question: "q", Items: domain.ContextSelection{{ID: "bad id"}}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalizeItems_DefaultsToExcluded(t *testing.T) {
	items, err := NormalizeItems(domain.ContextSelection{{ID: "a"}, {ID: "b", Kind: domain.KindNote, Visibility: "Full"}})
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityExcluded, items[0].Visibility)
	assert.Equal(t, domain.KindSource, items[0].Kind)
	assert.Equal(t, domain.VisibilityFull, items[1].Visibility)
	assert.Equal(t, domain.KindNote, items[1].Kind)
}

func TestEvidenceFor_TrimsToBudget(t *testing.T) {
	s := &Service{opts: Options{EvidenceTokens: 20}}
	found := domain.QueryResults{Results: []domain.RetrievedChunk{
		chunk("a", 0, 0.9, strings.Repeat("w ", 5)),
		chunk("a", 1, 0.8, strings.Repeat("w ", 50)),
	}}
	ev, trimmed := s.evidenceFor(retrievalResult(found), nil)
	assert.True(t, trimmed)
	require.Len(t, ev, 1)
	assert.Equal(t, "a-0000", ev[0].ChunkID)
}

func TestAnswerDigest_RenumbersToEvidence(t *testing.T) {
	evidence := []domain.RetrievedChunk{chunk("x", 0, 0.9, ""), chunk("y", 3, 0.8, "")}
	answers := []domain.QueryAnswer{
		{Query: domain.SubQuery{Term: "y"}, Text: "Y holds [1].", Citations: []domain.Citation{
			{Number: 1, Refs: []domain.ChunkRef{{SourceID: "y", ChunkID: "y-0003"}}},
		}},
		{Query: domain.SubQuery{Term: "z"}, NoEvidence: true},
	}
	assert.Equal(t, []string{`- "y": Y holds [2].`, `- "z": no evidence found.`}, answerDigest(answers, evidence))
}
