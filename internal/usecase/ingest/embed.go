package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// DefaultBatchSize caps the number of texts per embedding request.
const DefaultBatchSize = 96

// batchEmbedder fills chunk vectors in capped batches. A failed batch is
// retried once, then each half is tried once; chunks that still fail stay
// pending for a later re-embed.
type batchEmbedder struct {
	embedder  domain.BatchEmbedder
	batchSize int
	logger    *zap.Logger
}

// embedAll sets Vector on every chunk it could embed and returns how many
// stayed pending. Only caller cancellation is returned as an error.
func (b *batchEmbedder) embedAll(ctx context.Context, chunks []domain.Chunk) (int, error) {
	size := b.batchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	pending := 0
	for i := 0; i < len(chunks); i += size {
		end := min(i+size, len(chunks))
		n, err := b.embedBatch(ctx, chunks[i:end])
		if err != nil {
			return 0, err
		}
		pending += n
	}
	return pending, nil
}

func (b *batchEmbedder) embedBatch(ctx context.Context, batch []domain.Chunk) (int, error) {
	err := b.try(ctx, batch)
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	b.logger.Warn("Embedding batch failed, retrying", zap.Int("size", len(batch)), zap.Error(err))

	if err = b.try(ctx, batch); err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if len(batch) == 1 {
		b.logger.Warn("Chunk left pending", zap.String("chunk_id", batch[0].ID), zap.Error(err))
		return 1, nil
	}

	pending := 0
	mid := len(batch) / 2
	for _, half := range [][]domain.Chunk{batch[:mid], batch[mid:]} {
		herr := b.try(ctx, half)
		if herr == nil {
			continue
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		b.logger.Warn("Embedding half-batch failed, chunks left pending",
			zap.Int("size", len(half)),
			zap.String("first_chunk_id", half[0].ID),
			zap.Error(herr),
		)
		pending += len(half)
	}
	return pending, nil
}

func (b *batchEmbedder) try(ctx context.Context, batch []domain.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	res, err := b.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return err
	}
	if len(res.Embeddings) != len(batch) {
		return fmt.Errorf("got %d vectors for %d chunks", len(res.Embeddings), len(batch))
	}
	for i := range batch {
		if len(res.Embeddings[i]) == 0 {
			return fmt.Errorf("empty vector for chunk %s", batch[i].ID)
		}
	}
	for i := range batch {
		batch[i].Vector = res.Embeddings[i]
	}
	return nil
}
