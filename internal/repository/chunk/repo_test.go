package chunk

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/askdex/internal/db"
	"github.com/kailas-cloud/askdex/internal/domain"
)

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	r, ms := newTestRepo()
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.Prefix != "askdex:chunk:" {
		t.Fatalf("unexpected definition: %+v", created)
	}
	last := created.Fields[len(created.Fields)-1]
	if last.Kind != db.FieldVector || last.Dim != 3 {
		t.Errorf("unexpected vector field: %+v", last)
	}
}

func TestEnsureIndex_SkipsExisting(t *testing.T) {
	r, ms := newTestRepo()
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("CreateIndex must not be called")
		return nil
	}
	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceIsNotAnError(t *testing.T) {
	r, ms := newTestRepo()
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := r.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSave_PendingAndEmbedded(t *testing.T) {
	r, ms := newTestRepo()
	var items []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, it []db.HashSetItem) error {
		items = it
		return nil
	}

	err := r.Save(context.Background(), "Title", []domain.Chunk{
		{ID: "s-0000", SourceID: "s", Index: 0, Text: "a", Vector: []float32{1, 2, 3}},
		{ID: "s-0001", SourceID: "s", Index: 1, Text: "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items[0].Key != "askdex:chunk:s-0000" || items[0].Fields["pending"] != "0" || len(items[0].Fields["vector"]) != 12 {
		t.Errorf("unexpected embedded item: %+v", items[0].Fields)
	}
	if items[1].Fields["pending"] != "1" {
		t.Errorf("expected pending chunk, got %+v", items[1].Fields)
	}
	if _, ok := items[1].Fields["vector"]; ok {
		t.Error("pending chunk must not carry a vector field")
	}
}

func TestSave_DimensionMismatch(t *testing.T) {
	r, _ := newTestRepo()
	err := r.Save(context.Background(), "", []domain.Chunk{{ID: "x", Vector: []float32{1}}})
	if err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestListBySource_Pages(t *testing.T) {
	r, ms := newTestRepo()
	calls := 0
	ms.searchListFn = func(_ context.Context, q *db.ListQuery) (*db.SearchResult, error) {
		calls++
		if q.SortBy != "seq" {
			t.Errorf("expected sort by seq, got %q", q.SortBy)
		}
		n := listPage
		if q.Offset > 0 {
			n = 2
		}
		entries := make([]db.SearchEntry, n)
		for i := range entries {
			entries[i] = db.SearchEntry{Key: "askdex:chunk:s-x", Fields: map[string]string{"source_id": "s", "seq": "1"}}
		}
		return &db.SearchResult{Total: listPage + 2, Entries: entries}, nil
	}

	chunks, err := r.ListBySource(context.Background(), "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(chunks) != listPage+2 {
		t.Errorf("calls=%d chunks=%d", calls, len(chunks))
	}
	if chunks[0].ID != "s-x" || chunks[0].Index != 1 {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestDeleteBySource(t *testing.T) {
	r, ms := newTestRepo()
	ms.searchListFn = func(context.Context, *db.ListQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "askdex:chunk:s-0000"}, {Key: "askdex:chunk:s-0001"},
		}}, nil
	}
	var deleted []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		deleted = keys
		return nil
	}

	if err := r.DeleteBySource(context.Background(), "s"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 2 || deleted[1] != "askdex:chunk:s-0001" {
		t.Errorf("unexpected deleted keys: %v", deleted)
	}
}

func TestSearchVector_AppliesFilter(t *testing.T) {
	r, ms := newTestRepo()
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.Filter[1].Values[0] != "excluded" || !q.Filter[1].Negate {
			t.Errorf("expected exclusion filter, got %+v", q.Filter)
		}
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{
			Key:    "askdex:chunk:b-0002",
			Score:  0.6,
			Fields: map[string]string{"source_id": "b", "title": "B", "seq": "2", "text": "b text"},
		}}}, nil
	}

	hits, err := r.SearchVector(context.Background(), []float32{1, 0, 0}, 5, Filter{Exclude: []string{"excluded"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.RetrievedChunk{ChunkID: "b-0002", SourceID: "b", SourceTitle: "B", ChunkIndex: 2, Text: "b text", Score: 0.6}
	if len(hits) != 1 || hits[0] != want {
		t.Errorf("unexpected hits: %+v", hits)
	}
}

func TestSearchLexical_EmptyQuery(t *testing.T) {
	r, ms := newTestRepo()
	ms.searchTextFn = func(context.Context, *db.TextQuery) (*db.SearchResult, error) {
		t.Fatal("store must not be called for an empty query")
		return nil, nil
	}
	hits, err := r.SearchLexical(context.Background(), "  ", 5, Filter{})
	if err != nil || hits != nil {
		t.Errorf("expected no hits and no error, got %v %v", hits, err)
	}
}

func TestSearchLexical_Error(t *testing.T) {
	r, ms := newTestRepo()
	boom := errors.New("boom")
	ms.searchTextFn = func(context.Context, *db.TextQuery) (*db.SearchResult, error) { return nil, boom }
	if _, err := r.SearchLexical(context.Background(), "solar", 5, Filter{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCountPending(t *testing.T) {
	r, ms := newTestRepo()
	ms.searchCountFn = func(_ context.Context, _ string, f db.Filter) (int, error) {
		if f[1].Field != "pending" {
			t.Errorf("expected pending filter, got %+v", f)
		}
		return 4, nil
	}
	n, err := r.CountPending(context.Background(), "s")
	if err != nil || n != 4 {
		t.Errorf("got %d, %v", n, err)
	}
}
