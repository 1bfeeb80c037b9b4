package source

import (
	"context"
	"strings"

	"github.com/kailas-cloud/askdex/internal/db"
)

// mockStore is an in-memory JSON store.
type mockStore struct {
	docs    map[string][]byte
	setErr  error
	scanErr error
}

func newMockStore() *mockStore {
	return &mockStore{docs: map[string][]byte{}}
}

func (m *mockStore) JSONSet(_ context.Context, key string, data []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.docs[key] = data
	return nil
}

func (m *mockStore) JSONGet(_ context.Context, key string) ([]byte, error) {
	d, ok := m.docs[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return d, nil
}

func (m *mockStore) JSONGetMulti(_ context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.docs[k]
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.docs, k)
	}
	return nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
