package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/embedding"
	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/storage"
	"github.com/hyperjump/callmind/internal/vector"
)

const dims = 4096

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	emb    embedding.Embedder
	vec    *vector.MemoryIndex
	kw     *keyword.BleveIndex
	store  *storage.SQLiteStore
}

func testConfig() *config.Config {
	return &config.Config{
		Index: config.IndexConfig{Backend: "memory", Timeout: time.Second},
		Search: config.SearchConfig{
			DefaultLimit:        5,
			MaxLimit:            100,
			CandidateMultiplier: 4,
			ExcerptLength:       200,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vec, _ := vector.NewMemoryIndex(dims)
	t.Cleanup(func() { _ = vec.Close() })
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	emb := embedding.NewHashEmbedder(dims)
	env := &testEnv{emb: emb, vec: vec, kw: kw, store: store}
	env.engine = NewEngine(emb, vec, kw, store, testConfig(), WithLogger(zap.NewNop()))
	return env
}

func (env *testEnv) add(t *testing.T, id, text, from string, minutes int) {
	t.Helper()
	ctx := context.Background()
	vecEmb, err := env.emb.Embed(ctx, text)
	if err != nil {
		t.Fatal(err)
	}
	doc := &models.TranscriptDocument{
		DocID:     id,
		Text:      text,
		Embedding: vecEmb,
		Metadata: models.DocumentMetadata{
			FromNumber: from,
			ToNumber:   "+15550009999",
			Timestamp:  t0.Add(time.Duration(minutes) * time.Minute),
		},
	}
	if err := env.vec.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := env.kw.Index(ctx, doc); err != nil {
		t.Fatal(err)
	}
	rec := models.NewCallRecord(id, doc.Metadata.Timestamp)
	rec.TranscriptText = text
	rec.FromNumber = from
	rec.Status = models.StatusIndexed
	if err := env.store.SaveRecord(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}
}

func seed(t *testing.T, env *testEnv) {
	env.add(t, "CA1", "Hi, this is Dana. We need to push the project deadline back two weeks.", "+15550001111", 0)
	env.add(t, "CA2", "Calling about the invoice for last month, please call back.", "+15550002222", 1)
	env.add(t, "CA3", "Reminder that the dentist appointment is on Tuesday.", "+15550003333", 2)
}

func TestEngine_Search_ProjectDeadline(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	results, err := env.engine.Search(context.Background(), "project deadline", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	top := results[0]
	if top.DocID != "CA1" {
		t.Errorf("top result = %s, want CA1", top.DocID)
	}
	if top.Score <= 0 {
		t.Errorf("top score = %f, want > 0", top.Score)
	}
	if top.Rank != 1 || top.Metadata.FromNumber != "+15550001111" {
		t.Errorf("top = %+v", top)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score at %d", i)
		}
	}
}

func TestEngine_Search_InvalidQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"", "   ", "\t\n"} {
		if _, err := env.engine.Search(context.Background(), q, 5); !models.IsInvalidQuery(err) {
			t.Errorf("Search(%q) err = %v, want ErrInvalidQuery", q, err)
		}
	}
}

func TestEngine_Search_EmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	results, err := env.engine.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty non-nil slice", results)
	}
}

func TestEngine_Search_LimitClamped(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.add(t, string(rune('a'+i)), "budget meeting notes", "+1", i)
	}
	tests := []struct {
		limit int
		want  int
	}{
		{0, 1},
		{-4, 1},
		{2, 2},
		{1000, 3},
	}
	for _, tt := range tests {
		results, err := env.engine.Search(context.Background(), "budget", tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != tt.want {
			t.Errorf("limit %d: got %d results, want %d", tt.limit, len(results), tt.want)
		}
	}
}

func TestEngine_Search_TiesPreferNewest(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "old", "quarterly budget", "+1", 0)
	env.add(t, "new", "quarterly budget", "+1", 30)

	results, err := env.engine.Search(context.Background(), "quarterly budget", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].DocID != "new" {
		t.Errorf("got %v, want newest first on tie", resultIDs(results))
	}
}

func TestEngine_Query_Modes(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	ctx := context.Background()

	for _, mode := range []string{models.ModeSemantic, models.ModeKeyword, models.ModeHybrid} {
		resp, err := env.engine.Query(ctx, &models.SearchQuery{Query: "invoice", Mode: mode})
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if len(resp.Results) == 0 || resp.Results[0].DocID != "CA2" {
			t.Errorf("%s: results = %v", mode, resultIDs(resp.Results))
		}
		if resp.Mode != mode {
			t.Errorf("Mode = %q", resp.Mode)
		}
	}

	resp, _ := env.engine.Query(ctx, &models.SearchQuery{Query: "invoice", Mode: models.ModeHybrid})
	top := resp.Results[0]
	if top.KeywordScore <= 0 || top.SemanticScore <= 0 {
		t.Errorf("hybrid top should carry both scores: %+v", top)
	}

	if _, err := env.engine.Query(ctx, &models.SearchQuery{Query: "x", Mode: "fuzzy"}); !models.IsInvalidQuery(err) {
		t.Errorf("unknown mode err = %v", err)
	}
}

func TestEngine_Query_FromFilter(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", "status update on the migration", "+15550001111", 0)
	env.add(t, "B", "status update on the migration again", "+15550002222", 1)

	resp, err := env.engine.Query(context.Background(), &models.SearchQuery{
		Query:      "migration status",
		FromNumber: "+15550001111",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ids := resultIDs(resp.Results); len(ids) != 1 || ids[0] != "A" {
		t.Errorf("filtered = %v", ids)
	}
}

func TestEngine_Query_MinScore(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	resp, err := env.engine.Query(context.Background(), &models.SearchQuery{Query: "project deadline", MinScore: 0.01, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if r.Score <= 0.01 {
			t.Errorf("result %s score %f should have been filtered", r.DocID, r.Score)
		}
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %v, want only CA1", resultIDs(resp.Results))
	}
}

type brokenEmbedder struct{ embedding.Embedder }

func (brokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func (brokenEmbedder) Dimensions() int { return dims }

func TestEngine_Search_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	engine := NewEngine(brokenEmbedder{}, env.vec, env.kw, env.store, testConfig())
	_, err := engine.Search(context.Background(), "hello", 5)
	if !models.IsSearchUnavailable(err) {
		t.Errorf("err = %v, want ErrSearchUnavailable", err)
	}

	_ = env.vec.Close()
	_, err = env.engine.Search(context.Background(), "hello", 5)
	if !models.IsSearchUnavailable(err) || !errors.Is(err, vector.ErrClosed) {
		t.Errorf("closed index err = %v", err)
	}
}

func TestEngine_KeywordModeWithoutIndex(t *testing.T) {
	env := newTestEnv(t)
	engine := NewEngine(env.emb, env.vec, nil, env.store, testConfig())
	_, err := engine.Query(context.Background(), &models.SearchQuery{Query: "x", Mode: models.ModeKeyword})
	if !models.IsSearchUnavailable(err) {
		t.Errorf("err = %v", err)
	}
}

func TestEngine_Recent(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	ctx := context.Background()
	transcribed := models.NewCallRecord("pending", t0.Add(time.Hour))
	transcribed.Status = models.StatusTranscribed
	_ = env.store.SaveRecord(ctx, transcribed, nil)

	recs, err := env.engine.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].CallID != "CA3" || recs[1].CallID != "CA2" {
		t.Errorf("Recent = %+v", recs)
	}

	docs, err := env.engine.RecentDocuments(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].DocID != "CA3" {
		t.Errorf("RecentDocuments = %+v", docs)
	}
}

func TestEngine_Info(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	info, err := env.engine.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Documents != 3 || info.KeywordDocs != 3 || info.Dimensions != dims || info.Backend != "memory" {
		t.Errorf("info = %+v", info)
	}
}

func resultIDs(rs []*models.SearchResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.DocID
	}
	return ids
}

func TestEngine_Query_HybridKeywordWeightBounds(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		score  func(*models.SearchResult) float64
	}{
		{"zero weight ranks by semantic score", 0, func(r *models.SearchResult) float64 { return r.SemanticScore }},
		{"full weight ranks by keyword score", 1, func(r *models.SearchResult) float64 { return r.KeywordScore }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			seed(t, env)
			cfg := testConfig()
			w := tt.weight
			cfg.Search.KeywordWeight = &w
			engine := NewEngine(env.emb, env.vec, env.kw, env.store, cfg, WithLogger(zap.NewNop()))

			resp, err := engine.Query(context.Background(), &models.SearchQuery{Query: "invoice for last month", Mode: models.ModeHybrid})
			if err != nil {
				t.Fatal(err)
			}
			if len(resp.Results) == 0 {
				t.Fatal("no results")
			}
			for _, r := range resp.Results {
				if r.Score != tt.score(r) {
					t.Errorf("%s: score %v, want %v", r.DocID, r.Score, tt.score(r))
				}
			}
		})
	}
}
