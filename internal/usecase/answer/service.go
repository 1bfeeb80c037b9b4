// Package answer runs the ask and chat pipelines and streams their events.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
	"github.com/kailas-cloud/askdex/internal/usecase/citation"
	"github.com/kailas-cloud/askdex/internal/usecase/retrieval"
)

// Options tunes the pipelines.
type Options struct {
	// SkipQueryAnswers goes straight from retrieval to the final answer.
	SkipQueryAnswers bool
	Concurrency      int // parallel per-query answers
	MaxTokens        int // final answer
	QueryMaxTokens   int // per-query answers
	ContextBudget    int // tokens for context documents; 0 uses the assembler default
	EvidenceTokens   int // tokens for the numbered evidence list
	HistoryTurns     int

	// Per-stage model defaults. Empty uses the task default of the gateway.
	StrategyModel    string
	AnswerModel      string
	FinalAnswerModel string
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.QueryMaxTokens <= 0 {
		o.QueryMaxTokens = 800
	}
	if o.EvidenceTokens <= 0 {
		o.EvidenceTokens = 6000
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = 10
	}
}

// AskRequest is one question over the selected context.
type AskRequest struct {
	Question string
	Items    domain.ContextSelection
	// ModelOverride pins every stage and disables fallback.
	ModelOverride    string
	StrategyModel    string
	AnswerModel      string
	FinalAnswerModel string
}

type stageModels struct {
	strategy, answer, final string
}

func (r AskRequest) models(o Options) stageModels {
	if r.ModelOverride != "" {
		return stageModels{r.ModelOverride, r.ModelOverride, r.ModelOverride}
	}
	return stageModels{
		strategy: firstNonEmpty(r.StrategyModel, o.StrategyModel),
		answer:   firstNonEmpty(r.AnswerModel, o.AnswerModel),
		final:    firstNonEmpty(r.FinalAnswerModel, o.FinalAnswerModel),
	}
}

// Service synthesizes cited answers.
type Service struct {
	planner   Planner
	retriever Retriever
	assembler Assembler
	gen       Generator
	history   History
	mapper    *citation.Mapper
	opts      Options
	logger    *zap.Logger
}

// New creates the answer service.
func New(
	planner Planner,
	retriever Retriever,
	assembler Assembler,
	gen Generator,
	history History,
	mapper *citation.Mapper,
	opts Options,
	logger *zap.Logger,
) *Service {
	opts.applyDefaults()
	return &Service{
		planner:   planner,
		retriever: retriever,
		assembler: assembler,
		gen:       gen,
		history:   history,
		mapper:    mapper,
		opts:      opts,
		logger:    logger,
	}
}

// Ask validates req and starts the pipeline. The returned channel carries
// strategy, zero or more answer events and then exactly one final_answer or
// error event, and is closed afterwards. The caller must drain it or cancel
// ctx.
func (s *Service) Ask(ctx context.Context, req AskRequest) (<-chan domain.Event, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	items, err := NormalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	req.Items = items

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		ctx = withUsage(ctx)
		ctx = logger.With(ctx, zap.String("question_id", uuid.NewString()))
		em := newEmitter(ctx, out)

		err := s.ask(ctx, req, em)
		if err != nil {
			em.fail(err)
			logger.FromContextOr(ctx, s.logger).Warn("Ask failed", zap.Error(err), zap.String("stage", string(em.stage)))
		}
		metrics.AnswerRequestsTotal.WithLabelValues("ask", outcome(err)).Inc()
	}()
	return out, nil
}

func (s *Service) ask(ctx context.Context, req AskRequest, em *emitter) error {
	models := req.models(s.opts)

	if err := em.enter(domain.StagePlanning); err != nil {
		return err
	}
	strategy, err := s.planner.Plan(ctx, req.Question, models.strategy)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if err := em.emit(domain.Event{Type: domain.EventStrategy, Strategy: &strategy}); err != nil {
		return err
	}

	if err := em.enter(domain.StageRetrieving); err != nil {
		return err
	}
	found, payload, err := s.gather(ctx, strategy, req.Items)
	if err != nil {
		return err
	}

	var answers []domain.QueryAnswer
	if !s.opts.SkipQueryAnswers {
		if err := em.enter(domain.StageAnswering); err != nil {
			return err
		}
		answers, err = s.answerQueries(ctx, found.PerQuery, models.answer, em)
		if err != nil {
			return err
		}
	}

	if err := em.enter(domain.StageFinalSynthesis); err != nil {
		return err
	}
	final, err := s.synthesize(ctx, req.Question, found, answers, payload, models.final)
	if err != nil {
		return err
	}
	final.Usage = usageOf(ctx)
	return em.finish(final)
}

// gather runs retrieval and context assembly side by side.
func (s *Service) gather(
	ctx context.Context, strategy domain.SearchStrategy, items domain.ContextSelection,
) (retrieval.Result, domain.ContextPayload, error) {
	var (
		found   retrieval.Result
		payload domain.ContextPayload
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		found, err = s.retriever.Execute(gctx, strategy, items)
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		payload, err = s.assembler.Assemble(gctx, items, s.opts.ContextBudget)
		if err != nil {
			return fmt.Errorf("assemble context: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return retrieval.Result{}, domain.ContextPayload{}, err
	}
	return found, payload, nil
}

type queryOutcome struct {
	answer domain.QueryAnswer
	err    error
}

// answerQueries answers every sub-query concurrently and emits the answers
// in strategy order as soon as each prefix is complete.
func (s *Service) answerQueries(
	ctx context.Context, per []domain.QueryResults, model string, em *emitter,
) ([]domain.QueryAnswer, error) {
	slots := make([]chan queryOutcome, len(per))
	for i := range slots {
		slots[i] = make(chan queryOutcome, 1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	go func() {
		for i, qr := range per {
			g.Go(func() error {
				a, err := s.answerQuery(gctx, qr, model)
				slots[i] <- queryOutcome{answer: a, err: err}
				return err
			})
		}
		_ = g.Wait()
	}()

	answers := make([]domain.QueryAnswer, 0, len(per))
	for i := range slots {
		var o queryOutcome
		select {
		case o = <-slots[i]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if o.err != nil {
			return nil, fmt.Errorf("answer %q: %w", per[i].Query.Term, o.err)
		}
		a := o.answer
		if err := em.emit(domain.Event{Type: domain.EventAnswer, Answer: &a}); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (s *Service) answerQuery(ctx context.Context, qr domain.QueryResults, model string) (domain.QueryAnswer, error) {
	if len(qr.Results) == 0 {
		return domain.QueryAnswer{
			Query:      qr.Query,
			Text:       noEvidenceText(qr.Query.Term),
			Citations:  []domain.Citation{},
			NoEvidence: true,
		}, nil
	}
	res, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Task:  domain.TaskTools,
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: queryAnswerPrompt},
			{Role: domain.RoleUser, Content: queryUserPrompt(qr.Query, citation.Render(qr.Results))},
		},
		MaxTokens: s.opts.QueryMaxTokens,
	})
	if err != nil {
		return domain.QueryAnswer{}, err
	}
	cited := s.mapper.Map(ctx, res.Text, qr.Results)
	return domain.QueryAnswer{
		Query:     qr.Query,
		Text:      cited.Text,
		Citations: cited.Citations,
		ServedBy:  res.ServedBy,
	}, nil
}

// synthesize writes the final answer. Sub-queries without evidence are
// always disclosed, and a request with neither evidence nor context never
// reaches the model.
func (s *Service) synthesize(
	ctx context.Context,
	question string,
	found retrieval.Result,
	answers []domain.QueryAnswer,
	payload domain.ContextPayload,
	model string,
) (*domain.FinalAnswer, error) {
	evidence, trimmed := s.evidenceFor(found, answers)
	warnings := payloadWarnings(payload.Manifest)
	if trimmed {
		warnings = append(warnings, "Evidence was trimmed to fit the token budget.")
	}

	var missing []string
	for _, qr := range found.PerQuery {
		if len(qr.Results) == 0 {
			missing = append(missing, qr.Query.Term)
		}
	}

	final := &domain.FinalAnswer{Manifest: &payload.Manifest, Warnings: warnings}
	if len(evidence) == 0 && len(payload.Sections) == 0 {
		final.Text = emptyAnswerText
		final.Citations = []domain.Citation{}
		if len(missing) > 0 {
			final.Text += "\n\n" + missingEvidenceNote(missing)
		}
		return final, nil
	}

	res, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Task:  domain.TaskChat,
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: finalAnswerPrompt},
			{Role: domain.RoleUser, Content: finalUserPrompt(
				question, payload.Render(), answerDigest(answers, evidence), citation.Render(evidence),
			)},
		},
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("final answer: %w", err)
	}

	cited := s.mapper.Map(ctx, res.Text, evidence)
	final.Text = strings.TrimSpace(cited.Text)
	final.Citations = cited.Citations
	final.ServedBy = res.ServedBy
	if len(missing) > 0 {
		final.Text += "\n\n" + missingEvidenceNote(missing)
	}
	return final, nil
}

// evidenceFor builds the numbered evidence of the final answer: the global
// top hits followed by any chunk a per-query answer cited, cut to the
// evidence budget.
func (s *Service) evidenceFor(found retrieval.Result, answers []domain.QueryAnswer) ([]domain.RetrievedChunk, bool) {
	byID := make(map[string]domain.RetrievedChunk)
	for _, qr := range found.PerQuery {
		for _, c := range qr.Results {
			byID[c.ChunkID] = c
		}
	}
	seen := make(map[string]bool)
	var all []domain.RetrievedChunk
	add := func(c domain.RetrievedChunk) {
		if !seen[c.ChunkID] {
			seen[c.ChunkID] = true
			all = append(all, c)
		}
	}
	for _, c := range found.Global {
		add(c)
	}
	for _, a := range answers {
		for _, cite := range a.Citations {
			for _, ref := range cite.Refs {
				if c, ok := byID[ref.ChunkID]; ok {
					add(c)
				}
			}
		}
	}

	used := 0
	for i, c := range all {
		cost := domain.EstimateTokens(citation.Render([]domain.RetrievedChunk{c}))
		if used+cost > s.opts.EvidenceTokens {
			return all[:i], true
		}
		used += cost
	}
	return all, false
}

// answerDigest renders the per-query answers for the final prompt with their
// markers renumbered to the final evidence list.
func answerDigest(answers []domain.QueryAnswer, evidence []domain.RetrievedChunk) []string {
	pos := make(map[string]int, len(evidence))
	for i, c := range evidence {
		pos[c.ChunkID] = i + 1
	}
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.NoEvidence {
			out = append(out, fmt.Sprintf("- %q: no evidence found.", a.Query.Term))
			continue
		}
		byNumber := make(map[int]string, len(a.Citations))
		for _, c := range a.Citations {
			if len(c.Refs) > 0 {
				byNumber[c.Number] = c.Refs[0].ChunkID
			}
		}
		text := citation.Rewrite(a.Text, func(n int) (int, bool) {
			k, ok := pos[byNumber[n]]
			return k, ok
		})
		out = append(out, fmt.Sprintf("- %q: %s", a.Query.Term, text))
	}
	return out
}

func payloadWarnings(m domain.ContextManifest) []string {
	var out []string
	if m.Truncated {
		out = append(out, "Context was truncated to fit the token budget.")
	}
	for _, e := range m.Entries {
		if e.Omitted {
			out = append(out, fmt.Sprintf("Context item %q was omitted.", e.ID))
		}
	}
	return out
}

// NormalizeItems validates a selection and defaults missing levels to
// excluded and missing kinds to source.
func NormalizeItems(items domain.ContextSelection) (domain.ContextSelection, error) {
	out := make(domain.ContextSelection, 0, len(items))
	for _, it := range items {
		if !domain.IsValidID(it.ID) {
			return nil, fmt.Errorf("%w: invalid context item id %q", domain.ErrInvalidInput, it.ID)
		}
		if it.Kind == "" {
			it.Kind = domain.KindSource
		}
		if !it.Kind.IsValid() {
			return nil, fmt.Errorf("%w: unknown context item kind %q", domain.ErrInvalidInput, it.Kind)
		}
		v, err := domain.ParseVisibility(string(it.Visibility))
		if err != nil {
			return nil, err
		}
		it.Visibility = v
		out = append(out, it)
	}
	return out, nil
}

func withUsage(ctx context.Context) context.Context {
	if domain.UsageFromContext(ctx) != nil {
		return ctx
	}
	ctx, _ = domain.NewContextWithUsage(ctx)
	return ctx
}

func usageOf(ctx context.Context) *domain.UsageSnapshot {
	snap := domain.UsageFromContext(ctx).Snapshot()
	return &snap
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
