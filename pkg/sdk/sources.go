package askdex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SourceService ingests and manages sources and notes.
type SourceService struct {
	c *Client
}

// Ingest queues a source for chunking and embedding. The returned status is
// usually pending; poll Get for progress.
func (s *SourceService) Ingest(ctx context.Context, req IngestRequest) (_ Accepted, err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("source.ingest", start, err) }()

	if req.Text == "" {
		return Accepted{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	var acc Accepted
	err = s.c.do(ctx, http.MethodPost, "/v1/sources", nil, req, &acc, http.StatusAccepted)
	return acc, err
}

// Get returns a source with its embedding status.
func (s *SourceService) Get(ctx context.Context, id string) (_ Source, err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("source.get", start, err) }()

	if id == "" {
		return Source{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	var src Source
	err = s.c.do(ctx, http.MethodGet, "/v1/sources/"+url.PathEscape(id), nil, nil, &src)
	return src, err
}

// Delete removes a source and its chunks.
func (s *SourceService) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("source.delete", start, err) }()

	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.c.do(ctx, http.MethodDelete, "/v1/sources/"+url.PathEscape(id), nil, nil, nil, http.StatusNoContent)
}

// Reembed queues the pending chunks of a source for another embedding attempt.
func (s *SourceService) Reembed(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("source.reembed", start, err) }()

	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.c.do(ctx, http.MethodPost, "/v1/sources/"+url.PathEscape(id)+"/reembed", nil, nil, nil, http.StatusAccepted)
}

// WaitEmbedded polls Get until the source leaves the pending and processing
// states or ctx is done.
func (s *SourceService) WaitEmbedded(ctx context.Context, id string, every time.Duration) (Source, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		src, err := s.Get(ctx, id)
		if err != nil {
			return Source{}, err
		}
		if src.Status != StatusPending && src.Status != StatusProcessing {
			return src, nil
		}
		select {
		case <-ctx.Done():
			return src, ctx.Err()
		case <-ticker.C:
		}
	}
}
