package ingest

import (
	"context"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// SourceStore persists source records.
type SourceStore interface {
	Save(ctx context.Context, src *domain.Source) error
	Get(ctx context.Context, id string) (*domain.Source, error)
	Delete(ctx context.Context, id string) error
}

// ChunkStore persists chunks in the index.
type ChunkStore interface {
	Save(ctx context.Context, title string, chunks []domain.Chunk) error
	ListPending(ctx context.Context, sourceID string) ([]domain.Chunk, error)
	CountPending(ctx context.Context, sourceID string) (int, error)
	DeleteBySource(ctx context.Context, sourceID string) error
}
