package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/kailas-cloud/askdex/internal/domain"
)

type mockSourceStore struct {
	mu      sync.Mutex
	data    map[string]domain.Source
	saves   []domain.EmbeddingStatus
	saveErr error
}

func newMockSourceStore() *mockSourceStore {
	return &mockSourceStore{data: map[string]domain.Source{}}
}

func (m *mockSourceStore) Save(_ context.Context, src *domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[src.ID] = *src
	m.saves = append(m.saves, src.Status)
	return nil
}

func (m *mockSourceStore) Get(_ context.Context, id string) (*domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &src, nil
}

func (m *mockSourceStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type mockChunkStore struct {
	mu        sync.Mutex
	data      map[string]domain.Chunk
	deleteErr error
}

func newMockChunkStore() *mockChunkStore {
	return &mockChunkStore{data: map[string]domain.Chunk{}}
}

func (m *mockChunkStore) Save(_ context.Context, _ string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.data[c.ID] = c
	}
	return nil
}

func (m *mockChunkStore) bySource(sourceID string, pendingOnly bool) []domain.Chunk {
	var out []domain.Chunk
	for _, c := range m.data {
		if c.SourceID != sourceID || (pendingOnly && !c.Pending()) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *mockChunkStore) ListPending(_ context.Context, sourceID string) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySource(sourceID, true), nil
}

func (m *mockChunkStore) CountPending(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySource(sourceID, true)), nil
}

func (m *mockChunkStore) DeleteBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for id, c := range m.data {
		if c.SourceID == sourceID {
			delete(m.data, id)
		}
	}
	return nil
}

// mockEmbedder embeds every text as {len(text), 1} unless batchFn says otherwise.
type mockEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	batchFn func(texts []string) error
}

func (m *mockEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	fn := m.batchFn
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if fn != nil {
		if err := fn(texts); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// failContaining rejects any batch that includes a text containing marker.
func failContaining(marker string) func([]string) error {
	return func(texts []string) error {
		for _, t := range texts {
			if strings.Contains(t, marker) {
				return errors.New("provider rejected batch")
			}
		}
		return nil
	}
}

type mockGenerator struct {
	text string
	err  error
	reqs []domain.GenerateRequest
}

func (m *mockGenerator) Generate(_ context.Context, req domain.GenerateRequest) (domain.GenerateResult, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return domain.GenerateResult{}, m.err
	}
	return domain.GenerateResult{Text: m.text, ServedBy: "mock"}, nil
}
