// Package ingest turns submitted text into stored, embedded chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// Options configure the service.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
	QueueSize    int
}

// SubmitRequest is one document or note to ingest. An empty ID gets a UUID.
// Re-submitting an existing ID replaces its text and chunks.
type SubmitRequest struct {
	ID    string
	Kind  domain.ItemKind
	Title string
	Text  string
	Tags  []string
}

type jobKind int

const (
	jobIngest jobKind = iota
	jobReembed
)

type job struct {
	kind     jobKind
	sourceID string
}

// Service runs ingestion. Jobs for different sources run concurrently on a
// worker pool; jobs for the same source are serialized.
type Service struct {
	sources    SourceStore
	chunks     ChunkStore
	embed      *batchEmbedder
	summarizer *Summarizer
	chunker    Chunker
	logger     *zap.Logger

	locks   *keyedMutex
	queue   chan job
	workers int

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
	now     func() time.Time
}

// New creates the service. Call Start to run the workers.
func New(
	sources SourceStore, chunks ChunkStore, embedder domain.BatchEmbedder,
	summarizer *Summarizer, opts Options, logger *zap.Logger,
) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Service{
		sources:    sources,
		chunks:     chunks,
		embed:      &batchEmbedder{embedder: embedder, batchSize: opts.BatchSize, logger: logger},
		summarizer: summarizer,
		chunker:    NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		logger:     logger,
		locks:      newKeyedMutex(),
		queue:      make(chan job, opts.QueueSize),
		workers:    opts.Workers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for range s.workers {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.IngestQueueDepth.Set(float64(len(s.queue)))
			s.run(ctx, j)
		}
	}
}

func (s *Service) run(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobReembed:
		err = s.Reembed(ctx, j.sourceID)
	default:
		err = s.Process(ctx, j.sourceID)
	}
	if err != nil {
		s.logger.Error("Ingest job failed", zap.String("source_id", j.sourceID), zap.Error(err))
	}
}

func (s *Service) enqueue(j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("ingest service closed: %w", domain.ErrIngestQueueFull)
	}
	select {
	case s.queue <- j:
		metrics.IngestQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		return domain.ErrIngestQueueFull
	}
}

// Submit validates and stores the source as pending, then queues it. The
// returned source carries the assigned ID.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Source, error) {
	src, err := s.store(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(job{kind: jobIngest, sourceID: src.ID}); err != nil {
		s.fail(ctx, src, err)
		return nil, err
	}
	return src, nil
}

// Ingest stores and processes the source synchronously.
func (s *Service) Ingest(ctx context.Context, req SubmitRequest) (*domain.Source, error) {
	src, err := s.store(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, src.ID); err != nil {
		return nil, err
	}
	return s.sources.Get(ctx, src.ID)
}

func (s *Service) store(ctx context.Context, req SubmitRequest) (*domain.Source, error) {
	if req.Kind == "" {
		req.Kind = domain.KindSource
	}
	src := &domain.Source{
		ID:    req.ID,
		Kind:  req.Kind,
		Title: strings.TrimSpace(req.Title),
		Text:  Normalize(req.Text),
		Tags:  req.Tags,
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}

	unlock := s.locks.Lock(src.ID)
	defer unlock()

	now := s.now()
	src.CreatedAt, src.UpdatedAt = now, now
	if prev, err := s.sources.Get(ctx, src.ID); err == nil {
		src.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load source %s: %w", src.ID, err)
	}
	src.Status = domain.StatusPending
	if err := s.sources.Save(ctx, src); err != nil {
		return nil, fmt.Errorf("save source %s: %w", src.ID, err)
	}
	return src, nil
}

// Process chunks, summarizes and embeds a stored source, replacing any
// chunks from an earlier ingestion.
func (s *Service) Process(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	log := s.logger.With(zap.String("source_id", id))
	start := time.Now()

	src, err := s.sources.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load source %s: %w", id, err)
	}
	src.Status = domain.StatusProcessing
	src.Error = ""
	src.UpdatedAt = s.now()
	if err := s.sources.Save(ctx, src); err != nil {
		return fmt.Errorf("save source %s: %w", id, err)
	}

	chunks := s.chunker.Split(src.ID, src.Text)
	if src.Summary == "" {
		src.Summary = s.summarizer.Summarize(ctx, src.Label(), src.Text)
	}

	if err := s.chunks.DeleteBySource(ctx, src.ID); err != nil {
		return s.abort(ctx, src, fmt.Errorf("delete old chunks: %w", err))
	}

	pending, err := s.embed.embedAll(ctx, chunks)
	if err != nil {
		return s.abort(ctx, src, err)
	}
	if err := s.chunks.Save(ctx, src.Label(), chunks); err != nil {
		return s.abort(ctx, src, fmt.Errorf("save chunks: %w", err))
	}

	src.ChunkCount = len(chunks)
	s.settle(src, pending)
	if err := s.sources.Save(ctx, src); err != nil {
		return fmt.Errorf("save source %s: %w", id, err)
	}

	metrics.ChunksTotal.WithLabelValues("embedded").Add(float64(len(chunks) - pending))
	metrics.ChunksTotal.WithLabelValues("pending").Add(float64(pending))
	metrics.IngestJobsTotal.WithLabelValues(string(src.Status)).Inc()

	fields := []zap.Field{
		zap.Int("chunks", len(chunks)),
		zap.Int("pending", pending),
		zap.String("status", string(src.Status)),
		zap.Duration("duration", time.Since(start)),
	}
	if pending > 0 {
		log.Warn("Source partially embedded", fields...)
	} else {
		log.Info("Source ingested", fields...)
	}
	return nil
}

// Reembed embeds the chunks left pending by an earlier partial failure.
func (s *Service) Reembed(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	src, err := s.sources.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load source %s: %w", id, err)
	}
	chunks, err := s.chunks.ListPending(ctx, id)
	if err != nil {
		return fmt.Errorf("list pending chunks: %w", err)
	}
	if len(chunks) == 0 {
		s.settle(src, 0)
		return s.sources.Save(ctx, src)
	}

	stillPending, err := s.embed.embedAll(ctx, chunks)
	if err != nil {
		return err
	}
	done := make([]domain.Chunk, 0, len(chunks)-stillPending)
	for _, c := range chunks {
		if !c.Pending() {
			done = append(done, c)
		}
	}
	if err := s.chunks.Save(ctx, src.Label(), done); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	remaining, err := s.chunks.CountPending(ctx, id)
	if err != nil {
		return fmt.Errorf("count pending chunks: %w", err)
	}
	s.settle(src, remaining)
	metrics.ChunksTotal.WithLabelValues("embedded").Add(float64(len(done)))
	s.logger.Info("Re-embedded pending chunks",
		zap.String("source_id", id),
		zap.Int("embedded", len(done)),
		zap.Int("pending", remaining),
	)
	return s.sources.Save(ctx, src)
}

// SubmitReembed queues a re-embed job.
func (s *Service) SubmitReembed(ctx context.Context, id string) error {
	if _, err := s.sources.Get(ctx, id); err != nil {
		return err
	}
	return s.enqueue(job{kind: jobReembed, sourceID: id})
}

// Get returns the stored source.
func (s *Service) Get(ctx context.Context, id string) (*domain.Source, error) {
	return s.sources.Get(ctx, id)
}

// Delete removes a source and its chunks.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.sources.Get(ctx, id); err != nil {
		return err
	}
	if err := s.chunks.DeleteBySource(ctx, id); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", id, err)
	}
	if err := s.sources.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	return nil
}

// settle derives the final status from the pending count.
func (s *Service) settle(src *domain.Source, pending int) {
	src.PendingChunks = pending
	src.UpdatedAt = s.now()
	switch {
	case pending == 0:
		src.Status = domain.StatusEmbedded
	case pending < src.ChunkCount:
		src.Status = domain.StatusPartial
	default:
		src.Status = domain.StatusFailed
		src.Error = "no chunk could be embedded"
	}
}

// abort marks the source failed and returns err. A cancelled context leaves
// the status untouched; re-ingesting is the recovery path.
func (s *Service) abort(ctx context.Context, src *domain.Source, err error) error {
	if ctx.Err() != nil {
		return err
	}
	s.fail(ctx, src, err)
	return err
}

func (s *Service) fail(ctx context.Context, src *domain.Source, cause error) {
	src.Status = domain.StatusFailed
	src.Error = cause.Error()
	src.UpdatedAt = s.now()
	metrics.IngestJobsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	if err := s.sources.Save(ctx, src); err != nil {
		s.logger.Error("Failed to record ingest failure", zap.String("source_id", src.ID), zap.Error(err))
	}
}
