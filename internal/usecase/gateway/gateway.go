// Package gateway routes generation and embedding calls to configured model
// descriptors, with task defaults, health-aware selection and at most one
// fallback per request.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// DefaultLargeContextThreshold is the prompt size (estimated tokens) above
// which the large-context default is preferred.
const DefaultLargeContextThreshold = 105000

// Options configure routing.
type Options struct {
	// Defaults maps a task to a model id. Tools and transformation fall back
	// to the chat default when unset.
	Defaults              map[domain.Task]string
	LargeContextThreshold int
	// Cooldown is how long a failed descriptor is skipped.
	Cooldown time.Duration
	// RequestTimeout bounds one attempt for descriptors without their own timeout.
	RequestTimeout time.Duration
}

// Gateway is the single entry point for model calls.
type Gateway struct {
	reg       *Registry
	defaults  map[domain.Task]string
	threshold int
	cooldown  time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// New validates the registry and defaults and builds a gateway.
func New(reg *Registry, opts Options, log *zap.Logger) (*Gateway, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	g := &Gateway{
		reg:       reg,
		defaults:  make(map[domain.Task]string, len(opts.Defaults)),
		threshold: opts.LargeContextThreshold,
		cooldown:  opts.Cooldown,
		timeout:   opts.RequestTimeout,
		now:       time.Now,
		logger:    log,
	}
	if g.threshold <= 0 {
		g.threshold = DefaultLargeContextThreshold
	}
	if g.cooldown <= 0 {
		g.cooldown = 30 * time.Second
	}
	for task, id := range opts.Defaults {
		if id == "" {
			continue
		}
		m, err := reg.model(id)
		if err != nil {
			return nil, fmt.Errorf("default for %s: %w", task, err)
		}
		want := domain.ModalityChat
		if task == domain.TaskEmbedding {
			want = domain.ModalityEmbedding
		}
		if m.desc.Modality != want {
			return nil, fmt.Errorf("default for %s: model %q has modality %s, want %s",
				task, id, m.desc.Modality, want)
		}
		g.defaults[task] = id
	}
	return g, nil
}

// Models lists descriptors with live health.
func (g *Gateway) Models() []domain.ModelDescriptor { return g.reg.Descriptors() }

// Budgets lists provider budgets.
func (g *Gateway) Budgets() []BudgetReport { return g.reg.Budgets() }

// defaultFor resolves a task default. Tools, transformation and large context
// fall back to chat.
func (g *Gateway) defaultFor(task domain.Task) string {
	if task == "" {
		task = domain.TaskChat
	}
	if id := g.defaults[task]; id != "" {
		return id
	}
	if task == domain.TaskEmbedding {
		return ""
	}
	return g.defaults[domain.TaskChat]
}

// selectChat picks the primary descriptor for a generation.
func (g *Gateway) selectChat(req domain.GenerateRequest) (*model, bool, error) {
	if req.Model != "" {
		m, err := g.reg.model(req.Model)
		if err != nil {
			return nil, false, err
		}
		if m.desc.Modality != domain.ModalityChat {
			return nil, false, fmt.Errorf("model %q is not a chat model: %w", req.Model, domain.ErrInvalidInput)
		}
		return m, true, nil
	}

	id := g.defaultFor(req.Task)
	if id == "" {
		return nil, false, fmt.Errorf("no default model for task %s: %w", req.Task, domain.ErrModelNotFound)
	}
	m, err := g.reg.model(id)
	if err != nil {
		return nil, false, err
	}

	tokens := req.PromptTokens()
	tooBig := tokens > g.threshold || (m.desc.ContextWindow > 0 && tokens > m.desc.ContextWindow)
	if tooBig {
		if lc := g.defaults[domain.TaskLargeContext]; lc != "" && lc != id {
			if big, err := g.reg.model(lc); err == nil {
				g.logger.Debug("Routing to large-context model",
					zap.Int("prompt_tokens", tokens), zap.String("model", lc))
				return big, false, nil
			}
		}
	}
	return m, false, nil
}

// candidates returns the attempt order: the primary and, unless pinned, its
// fallback. A primary in cooldown is skipped when the fallback is available.
func (g *Gateway) candidates(primary *model, pinned bool) []*model {
	if pinned || primary.desc.Fallback == "" {
		return []*model{primary}
	}
	fb, err := g.reg.model(primary.desc.Fallback)
	if err != nil {
		return []*model{primary}
	}
	now := g.now()
	if !primary.available(now) && fb.available(now) {
		return []*model{fb}
	}
	return []*model{primary, fb}
}

// Generate runs a chat generation. The result names the descriptor that
// served it and whether a fallback was used.
func (g *Gateway) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error) {
	primary, pinned, err := g.selectChat(req)
	if err != nil {
		return domain.GenerateResult{}, err
	}

	var res domain.GenerateResult
	servedBy, err := g.attempt(ctx, primary, pinned, func(ctx context.Context, m *model) (int64, error) {
		r, err := m.provider.client.Generate(ctx, m.desc.Name, req)
		if err != nil {
			return 0, err
		}
		res = r
		provider, name := m.desc.Provider, m.desc.Name
		metrics.ModelTokensTotal.WithLabelValues(provider, name, "prompt").Add(float64(r.PromptTokens))
		metrics.ModelTokensTotal.WithLabelValues(provider, name, "completion").Add(float64(r.CompletionTokens))
		domain.UsageFromContext(ctx).AddGeneration(r.PromptTokens, r.CompletionTokens)
		return int64(r.PromptTokens + r.CompletionTokens), nil
	})
	if err != nil {
		return domain.GenerateResult{}, err
	}

	res.Text = StripThinking(res.Text)
	res.ServedBy = servedBy
	res.FellBack = servedBy != primary.desc.ID
	return res, nil
}

// BatchEmbed embeds texts with the default embedding model. It implements
// domain.BatchEmbedder. Fallback happens only when the embedding descriptor
// names one explicitly.
func (g *Gateway) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	id := g.defaultFor(domain.TaskEmbedding)
	if id == "" {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("no default embedding model: %w", domain.ErrModelNotFound)
	}
	primary, err := g.reg.model(id)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{ServedBy: id}, nil
	}

	var res domain.BatchEmbeddingResult
	servedBy, err := g.attempt(ctx, primary, false, func(ctx context.Context, m *model) (int64, error) {
		r, err := m.provider.client.Embed(ctx, m.desc.Name, texts)
		if err != nil {
			return 0, err
		}
		if len(r.Embeddings) != len(texts) {
			return 0, fmt.Errorf("got %d vectors for %d texts: %w", len(r.Embeddings), len(texts), domain.ErrProviderError)
		}
		res = r
		metrics.ModelTokensTotal.WithLabelValues(m.desc.Provider, m.desc.Name, "embedding").Add(float64(r.TotalTokens))
		domain.UsageFromContext(ctx).AddEmbedding(r.TotalTokens)
		return int64(r.TotalTokens), nil
	})
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	res.ServedBy = servedBy
	return res, nil
}

type callFn func(ctx context.Context, m *model) (tokens int64, err error)

// attempt tries candidates in order, at most two. Caller cancellation stops
// immediately. When every candidate fails the error wraps
// ErrProviderUnavailable and the last cause.
func (g *Gateway) attempt(ctx context.Context, primary *model, pinned bool, fn callFn) (string, error) {
	log := logger.FromContextOr(ctx, g.logger)

	var lastErr error
	for i, m := range g.candidates(primary, pinned) {
		err := g.call(ctx, m, fn)
		if err == nil {
			if m != primary {
				metrics.ModelFallbacksTotal.WithLabelValues(primary.desc.ID, m.desc.ID).Inc()
				log.Warn("Served by fallback model",
					zap.String("primary", primary.desc.ID),
					zap.String("served_by", m.desc.ID),
					zap.NamedError("primary_error", lastErr),
				)
			}
			return m.desc.ID, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		log.Warn("Model call failed",
			zap.Int("attempt", i+1),
			zap.String("model", m.desc.ID),
			zap.Error(err),
		)
	}

	if pinned {
		return "", fmt.Errorf("%w: pinned model %s: %w", domain.ErrProviderUnavailable, primary.desc.ID, lastErr)
	}
	return "", fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, primary.desc.Modality, lastErr)
}

// call runs one attempt with budget, rate limit and timeout applied, and
// updates health and metrics from the outcome.
func (g *Gateway) call(ctx context.Context, m *model, fn callFn) error {
	p := m.provider
	labels := []string{m.desc.Provider, m.desc.Name, string(m.desc.Modality)}

	if p.budget != nil {
		if err := p.budget.Check(ctx); err != nil {
			metrics.ModelRequestsTotal.WithLabelValues(append(labels, "budget")...).Inc()
			return err
		}
	}
	if p.limiter != nil && !p.limiter.Allow() {
		metrics.ModelRequestsTotal.WithLabelValues(append(labels, "rate_limited")...).Inc()
		return fmt.Errorf("provider %s: local limit: %w", p.name, domain.ErrRateLimited)
	}

	timeout := m.desc.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	tokens, err := fn(callCtx, m)
	metrics.ModelRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
		}
		metrics.ModelRequestsTotal.WithLabelValues(append(labels, statusOf(err))...).Inc()
		if ctx.Err() == nil && marksUnhealthy(err) {
			m.markUnhealthy(g.now().Add(g.cooldown))
		}
		return err
	}

	metrics.ModelRequestsTotal.WithLabelValues(append(labels, "success")...).Inc()
	m.markHealthy()
	if p.budget != nil {
		p.budget.Record(tokens)
	}
	return nil
}

// marksUnhealthy is true for failures that say something about the
// provider itself rather than about quotas.
func marksUnhealthy(err error) bool {
	switch {
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrBudgetExceeded):
		return false
	case errors.Is(err, domain.ErrUnsupportedModality):
		return false
	default:
		return true
	}
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
