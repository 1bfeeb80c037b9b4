package redis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/askdex/internal/db"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	if err := NewStoreForTest(c).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	if err := NewStoreForTest(c).Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitForReady_RetriesUntilPong(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("connection refused"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	if err := NewStoreForTest(c).WaitForReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_TimeoutKeepsLastError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).
		AnyTimes()

	err := NewStoreForTest(c).WaitForReady(context.Background(), 120*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

// --- hash.go tests ---

func TestHSetMulti_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(),
			mock.MatchFn(func(cmd []string) bool { return cmd[0] == "HSET" && cmd[1] == "k1" }),
			mock.MatchFn(func(cmd []string) bool { return cmd[0] == "HSET" && cmd[1] == "k2" }),
		).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.Result(mock.RedisInt64(1)),
		})

	err := NewStoreForTest(c).HSetMulti(context.Background(), []db.HashSetItem{
		{Key: "k1", Fields: map[string]string{"f1": "v1"}},
		{Key: "k2", Fields: map[string]string{"f2": "v2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSetMulti_PartialError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.ErrorResult(errors.New("OOM")),
		})

	err := NewStoreForTest(c).HSetMulti(context.Background(), []db.HashSetItem{
		{Key: "k1", Fields: map[string]string{"f": "v"}},
		{Key: "k2", Fields: map[string]string{"f": "v"}},
	})
	if !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
	if !strings.Contains(err.Error(), "k2") {
		t.Errorf("expected failing key in error, got %v", err)
	}
}

func TestHSetMulti_Empty(t *testing.T) {
	if err := NewStoreForTest(nil).HSetMulti(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHGetAllMulti_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("HGETALL", "k1"), mock.Match("HGETALL", "k2")).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{"f": mock.RedisString("a")})),
			mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{})),
		})

	results, err := NewStoreForTest(c).HGetAllMulti(context.Background(), []string{"k1", "k2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0]["f"] != "a" || len(results[1]) != 0 {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestDel_MultipleKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "a", "b")).
		Return(mock.Result(mock.RedisInt64(2)))

	if err := NewStoreForTest(c).Del(context.Background(), "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDel_NoKeys(t *testing.T) {
	if err := NewStoreForTest(nil).Del(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScan_MultiPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	first := true
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "SCAN" })).
		DoAndReturn(func(_ context.Context, _ rueidis.Completed) rueidis.RedisResult {
			if first {
				first = false
				return mock.Result(mock.RedisArray(
					mock.RedisString("42"),
					mock.RedisArray(mock.RedisString("askdex:source:a")),
				))
			}
			return mock.Result(mock.RedisArray(
				mock.RedisString("0"),
				mock.RedisArray(mock.RedisString("askdex:source:b")),
			))
		}).Times(2)

	keys, err := NewStoreForTest(c).Scan(context.Background(), "askdex:source:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

// --- json.go tests ---

func TestJSONSet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("JSON.SET", "askdex:source:a", "$", `{"id":"a"}`)).
		Return(mock.Result(mock.RedisString("OK")))

	if err := NewStoreForTest(c).JSONSet(context.Background(), "askdex:source:a", []byte(`{"id":"a"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJSONGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("JSON.GET", "missing")).
		Return(mock.Result(mock.RedisNil()))

	_, err := NewStoreForTest(c).JSONGet(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestJSONGetMulti_SkipsMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("JSON.GET", "a"), mock.Match("JSON.GET", "b")).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisString(`{"id":"a"}`)),
			mock.Result(mock.RedisNil()),
		})

	docs, err := NewStoreForTest(c).JSONGetMulti(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(docs[0]) != `{"id":"a"}` || docs[1] != nil {
		t.Errorf("unexpected docs: %q", docs)
	}
}

// --- kv.go tests ---

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.Result(mock.RedisNil()))

	_, err := NewStoreForTest(c).Get(context.Background(), "k")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMGet_NilEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("MGET", "a", "b")).
		Return(mock.Result(mock.RedisArray(mock.RedisString("x"), mock.RedisNil())))

	vals, err := NewStoreForTest(c).MGet(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(vals[0]) != "x" || vals[1] != nil {
		t.Errorf("unexpected values: %q", vals)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", "60")).
		Return(mock.Result(mock.RedisString("OK")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncrBy_ReturnsValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("INCRBY", "k", "5")).
		Return(mock.Result(mock.RedisInt64(12)))

	n, err := NewStoreForTest(c).IncrBy(context.Background(), "k", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12, got %d", n)
	}
}

func TestExpire_WithNX(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXPIRE", "k", "3600", "NX")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := NewStoreForTest(c).Expire(context.Background(), "k", time.Hour, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- index.go tests ---

func TestCreateIndex_Args(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var got []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			got = cmd
			return cmd[0] == "FT.CREATE"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	def, err := db.NewIndex("chunks", "askdex:chunk:").
		Tag("source_id").
		Numeric("seq").
		Text("text").
		VectorHNSW("vector", 4, db.DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := NewStoreForTest(c).CreateIndex(context.Background(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"FT.CREATE", "chunks", "ON", "HASH", "PREFIX", "1", "askdex:chunk:", "SCHEMA",
		"source_id", "TAG",
		"seq", "NUMERIC", "SORTABLE",
		"text", "TEXT",
		"vector", "VECTOR", "HNSW", "10", "TYPE", "FLOAT32", "DIM", "4", "DISTANCE_METRIC", "COSINE",
		"M", "16", "EF_CONSTRUCTION", "200",
	}
	if !slices.Equal(got, want) {
		t.Errorf("unexpected FT.CREATE args:\ngot:  %v\nwant: %v", got, want)
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("Index already exists")))

	def := &db.IndexDefinition{Name: "idx", Prefix: "p:", Fields: []db.IndexField{{Name: "t", Kind: db.FieldTag}}}
	err := NewStoreForTest(c).CreateIndex(context.Background(), def)
	if !errors.Is(err, db.ErrIndexExists) {
		t.Fatalf("expected ErrIndexExists, got %v", err)
	}
}

func TestCreateIndex_InvalidDefinition(t *testing.T) {
	err := NewStoreForTest(nil).CreateIndex(context.Background(), &db.IndexDefinition{Name: "idx"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestIndexExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "present")).
		Return(mock.Result(mock.RedisArray()))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "absent")).
		Return(mock.Result(mock.RedisError("Unknown index name")))

	s := NewStoreForTest(c)
	if ok, err := s.IndexExists(context.Background(), "present"); err != nil || !ok {
		t.Errorf("present: ok=%v err=%v", ok, err)
	}
	if ok, err := s.IndexExists(context.Background(), "absent"); err != nil || ok {
		t.Errorf("absent: ok=%v err=%v", ok, err)
	}
}

func TestDropIndex_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.DROPINDEX", "idx")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	if err := NewStoreForTest(c).DropIndex(context.Background(), "idx"); !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

// --- search.go tests ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var query string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			query = cmd[2]
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("askdex:chunk:a-0000"),
			mock.RedisArray(
				mock.RedisString("__vector_score"), mock.RedisString("0.1"),
				mock.RedisString("text"), mock.RedisString("hello"),
			),
		)))

	res, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		Index:  "idx",
		Field:  "vector",
		Vector: []float32{0.1, 0.2},
		K:      10,
		Filter: db.Filter{{Field: "source_id", Values: []string{"b-1"}, Negate: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query != `(-@source_id:{b\-1})=>[KNN 10 @vector $BLOB]` {
		t.Errorf("unexpected query %q", query)
	}
	if len(res.Entries) != 1 || res.Entries[0].Fields["text"] != "hello" {
		t.Fatalf("unexpected entries: %+v", res.Entries)
	}
	if _, ok := res.Entries[0].Fields["__vector_score"]; ok {
		t.Error("score field must be removed from fields")
	}
	if res.Entries[0].Score < 0.89 || res.Entries[0].Score > 0.91 {
		t.Errorf("expected score ~0.9, got %f", res.Entries[0].Score)
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	cases := []*db.KNNQuery{
		{Field: "v", Vector: []float32{0.1}, K: 10},
		{Index: "idx", Vector: []float32{0.1}, K: 10},
		{Index: "idx", Field: "v", K: 10},
		{Index: "idx", Field: "v", Vector: []float32{0.1}},
	}
	for i, q := range cases {
		if _, err := s.SearchKNN(ctx, q); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSearchText_MatchAny(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var query string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			query = cmd[2]
			return cmd[0] == "FT.SEARCH" && slices.Contains(cmd, "WITHSCORES")
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("askdex:chunk:a-0001"),
			mock.RedisString("2.5"),
			mock.RedisArray(mock.RedisString("text"), mock.RedisString("match text")),
		)))

	res, err := NewStoreForTest(c).SearchText(context.Background(), &db.TextQuery{
		Index:    "idx",
		Field:    "text",
		Query:    "solar power?",
		MatchAny: true,
		TopK:     5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query != "@text:(solar | power)" {
		t.Errorf("unexpected query %q", query)
	}
	if res.Entries[0].Score != 2.5 {
		t.Errorf("expected raw score 2.5, got %f", res.Entries[0].Score)
	}
}

func TestSearchText_EmptyQuery(t *testing.T) {
	_, err := (&Store{}).SearchText(context.Background(), &db.TextQuery{Index: "idx", Field: "text", Query: " ?! ", TopK: 5})
	if err == nil {
		t.Fatal("expected error for query without terms")
	}
}

func TestSearchList_SortAndFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var got []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			got = cmd
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("k1"), mock.RedisArray(mock.RedisString("seq"), mock.RedisString("0")),
			mock.RedisString("k2"), mock.RedisArray(mock.RedisString("seq"), mock.RedisString("1")),
		)))

	res, err := NewStoreForTest(c).SearchList(context.Background(), &db.ListQuery{
		Index:  "idx",
		Filter: db.Filter{{Field: "source_id", Values: []string{"a"}}},
		SortBy: "seq",
		Limit:  100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[2] != "@source_id:{a}" || !slices.Contains(got, "SORTBY") {
		t.Errorf("unexpected args %v", got)
	}
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSearchCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[2] == "@source_id:{a} @pending:{1}"
		})).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(3))))

	n, err := NewStoreForTest(c).SearchCount(context.Background(), "idx", db.Filter{
		{Field: "source_id", Values: []string{"a"}},
		{Field: "pending", Values: []string{"1"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		in   db.Filter
		want string
	}{
		{nil, ""},
		{db.Filter{{Field: "source_id"}}, ""},
		{db.Filter{{Field: "source_id", Values: []string{"a", "b c"}}}, `@source_id:{a | b\ c}`},
		{db.Filter{{Field: "source_id", Values: []string{"x"}, Negate: true}}, `-@source_id:{x}`},
	}
	for _, tt := range tests {
		if got := buildFilter(tt.in); got != tt.want {
			t.Errorf("buildFilter(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextTerms(t *testing.T) {
	if got := textTerms(`compare "A" and B-2`, false); got != `compare A and B\-2` {
		t.Errorf("unexpected terms %q", got)
	}
}

// isDBError is a test helper for checking wrapped db.Error.
func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
