package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/askdex/internal/db"
	"github.com/kailas-cloud/askdex/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "source:"

// store is the consumer interface for source documents (ISP).
type store interface {
	JSONSet(ctx context.Context, key string, data []byte) error
	JSONGet(ctx context.Context, key string) ([]byte, error)
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo persists sources and notes as JSON documents.
type Repo struct {
	store store
}

// New creates a source repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save writes the whole source document.
func (r *Repo) Save(ctx context.Context, src *domain.Source) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	if err := r.store.JSONSet(ctx, key(src.ID), data); err != nil {
		return fmt.Errorf("json.set source %s: %w", src.ID, err)
	}
	return nil
}

// Get returns the source with id or domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, id string) (*domain.Source, error) {
	raw, err := r.store.JSONGet(ctx, key(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("json.get source %s: %w", id, err)
	}
	return decode(raw)
}

// GetMany returns the sources that exist among ids, keyed by id.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]*domain.Source, error) {
	if len(ids) == 0 {
		return map[string]*domain.Source{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	docs, err := r.store.JSONGetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("json.get sources: %w", err)
	}
	out := make(map[string]*domain.Source, len(ids))
	for _, raw := range docs {
		if raw == nil {
			continue
		}
		src, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out[src.ID] = src
	}
	return out, nil
}

// List returns every source, oldest first.
func (r *Repo) List(ctx context.Context) ([]*domain.Source, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, keyPrefix)
	}
	byID, err := r.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Source, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the source document.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, key(id)); err != nil {
		return fmt.Errorf("del source %s: %w", id, err)
	}
	return nil
}

func key(id string) string {
	return keyPrefix + id
}

func decode(raw []byte) (*domain.Source, error) {
	// JSON.GET with a $ path wraps the document in an array.
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) > 0 && raw[0] == '[' {
		var arr []domain.Source
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("unmarshal source: %w", err)
		}
		if len(arr) == 0 {
			return nil, domain.ErrNotFound
		}
		return &arr[0], nil
	}
	var src domain.Source
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	return &src, nil
}
