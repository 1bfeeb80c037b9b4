package gateway

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterModelMetrics()
	os.Exit(m.Run())
}

type fakeProvider struct {
	generateFn func(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error)
	embedFn    func(ctx context.Context, model string, texts []string) (domain.BatchEmbeddingResult, error)
	healthFn   func(ctx context.Context) error

	generateCalls atomic.Int32
	embedCalls    atomic.Int32
}

func (f *fakeProvider) Generate(ctx context.Context, model string, req domain.GenerateRequest) (domain.GenerateResult, error) {
	f.generateCalls.Add(1)
	if f.generateFn != nil {
		return f.generateFn(ctx, model, req)
	}
	return domain.GenerateResult{Text: "answer from " + model, PromptTokens: 10, CompletionTokens: 5}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, model string, texts []string) (domain.BatchEmbeddingResult, error) {
	f.embedCalls.Add(1)
	if f.embedFn != nil {
		return f.embedFn(ctx, model, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	if f.healthFn != nil {
		return f.healthFn(ctx)
	}
	return nil
}

func failing(err error) func(context.Context, string, domain.GenerateRequest) (domain.GenerateResult, error) {
	return func(context.Context, string, domain.GenerateRequest) (domain.GenerateResult, error) {
		return domain.GenerateResult{}, err
	}
}

// testSetup registers two chat providers (primary → fallback) and one embedding model.
type testSetup struct {
	primary  *fakeProvider
	fallback *fakeProvider
	embed    *fakeProvider
	reg      *Registry
}

func newSetup(t *testing.T) *testSetup {
	t.Helper()
	s := &testSetup{primary: &fakeProvider{}, fallback: &fakeProvider{}, embed: &fakeProvider{}, reg: NewRegistry()}
	must(t, s.reg.AddProvider("p1", s.primary, ProviderOptions{}))
	must(t, s.reg.AddProvider("p2", s.fallback, ProviderOptions{}))
	must(t, s.reg.AddProvider("emb", s.embed, ProviderOptions{}))
	must(t, s.reg.AddModel(Descriptor{ID: "fast", Provider: "p1", Name: "fast-v1", Modality: domain.ModalityChat, Fallback: "steady"}))
	must(t, s.reg.AddModel(Descriptor{ID: "steady", Provider: "p2", Name: "steady-v1", Modality: domain.ModalityChat}))
	must(t, s.reg.AddModel(Descriptor{ID: "big", Provider: "p2", Name: "big-v1", Modality: domain.ModalityChat, ContextWindow: 200000}))
	must(t, s.reg.AddModel(Descriptor{ID: "nomic", Provider: "emb", Name: "nomic-embed", Modality: domain.ModalityEmbedding}))
	return s
}

func (s *testSetup) gateway(t *testing.T, opts Options) *Gateway {
	t.Helper()
	if opts.Defaults == nil {
		opts.Defaults = map[domain.Task]string{
			domain.TaskChat:         "fast",
			domain.TaskLargeContext: "big",
			domain.TaskEmbedding:    "nomic",
		}
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = time.Minute
	}
	g, err := New(s.reg, opts, zap.NewNop())
	must(t, err)
	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func userMsg(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: text}}
}
