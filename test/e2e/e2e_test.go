package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/embedding"
	"github.com/hyperjump/callmind/internal/indexer"
	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/search"
	"github.com/hyperjump/callmind/internal/server"
	"github.com/hyperjump/callmind/internal/storage"
	"github.com/hyperjump/callmind/internal/vector"
)

const (
	e2eDimensions = 512
	e2eTopN       = 3
)

type pipeline struct {
	url   string
	corr  *correlator.Correlator
	queue *indexer.Queue
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "calls.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Index.Backend = "sqlite"
	cfg.Server.WebhookRateLimit = "10000-S"

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	vecIdx, err := vector.New(ctx, cfg.Index, cfg.Storage.VectorIndexPath, vector.SpaceFor(cfg.Embedding, e2eDimensions))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vecIdx.Close() })
	kwIdx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIdx.Close() })
	emb := embedding.NewHashEmbedder(e2eDimensions)

	corr := correlator.New(store)
	idx := indexer.NewIndexer(emb, vecIdx, kwIdx, corr, cfg)
	queue := indexer.NewQueue(idx, corr.Get, 4, 256)
	corr.OnTranscribed(func(callID string) { queue.Enqueue(callID) })
	queue.Start(ctx)
	t.Cleanup(queue.Stop)

	engine := search.NewEngine(emb, vecIdx, kwIdx, store, cfg)
	srv, err := server.NewServer(corr, engine, store, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &pipeline{url: ts.URL, corr: corr, queue: queue}
}

func (p *pipeline) postForm(t *testing.T, path string, form url.Values) {
	t.Helper()
	resp, err := http.PostForm(p.url+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
}

func (p *pipeline) search(t *testing.T, query, mode string) *models.SearchResponse {
	t.Helper()
	v := url.Values{"q": {query}, "mode": {mode}, "limit": {"10"}}
	resp, err := http.Get(p.url + "/api/v1/search?" + v.Encode())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search %q: status %d", query, resp.StatusCode)
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}

// waitIndexed polls until every call is INDEXED.
func (p *pipeline) waitIndexed(t *testing.T, calls []Voicemail) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	for _, c := range calls {
		for {
			rec, err := p.corr.Get(ctx, c.CallID)
			if err == nil && rec.Status == models.StatusIndexed {
				break
			}
			if err == nil && rec.Status == models.StatusFailed {
				t.Fatalf("call %s failed: %s", c.CallID, rec.FailureReason)
			}
			if time.Now().After(deadline) {
				t.Fatalf("call %s not indexed in time", c.CallID)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func topIDs(resp *models.SearchResponse, n int) []string {
	ids := make([]string, 0, n)
	for i, r := range resp.Results {
		if i >= n {
			break
		}
		ids = append(ids, r.DocID)
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestE2E_WebhooksToSearch(t *testing.T) {
	p := newPipeline(t)
	corpus := BuildCorpus()

	// Deliver events out of order for every other call: transcription before recording.
	for i, c := range corpus.Calls {
		start := url.Values{"CallSid": {c.CallID}, "From": {c.FromNumber}, "To": {"+15550000000"}}
		rec := url.Values{"CallSid": {c.CallID}, "RecordingUrl": {"https://recordings.example.com/" + c.CallID}}
		tr := url.Values{"CallSid": {c.CallID}, "TranscriptionText": {c.Transcript}, "TranscriptionStatus": {"completed"}}
		p.postForm(t, "/webhooks/voice", start)
		if i%2 == 0 {
			p.postForm(t, "/webhooks/recording-complete", rec)
			p.postForm(t, "/webhooks/transcription", tr)
		} else {
			p.postForm(t, "/webhooks/transcription", tr)
			p.postForm(t, "/webhooks/recording-complete", rec)
		}
		// Redelivery must not create a second document.
		p.postForm(t, "/webhooks/transcription", tr)
	}
	p.waitIndexed(t, corpus.Calls)

	for _, mode := range []string{models.ModeKeyword, models.ModeSemantic, models.ModeHybrid} {
		for _, tc := range corpus.TestCases {
			t.Run(mode+"/"+tc.Description, func(t *testing.T) {
				resp := p.search(t, tc.Query, mode)
				ids := topIDs(resp, e2eTopN)
				if !contains(ids, tc.ExpectedCallID) {
					t.Errorf("query %q (%s): expected %s in top %d, got %v", tc.Query, mode, tc.ExpectedCallID, e2eTopN, ids)
				}
				seen := make(map[string]bool)
				for _, r := range resp.Results {
					if seen[r.DocID] {
						t.Errorf("duplicate result %s", r.DocID)
					}
					seen[r.DocID] = true
				}
			})
		}
	}
}

func TestE2E_RecordsAfterPipeline(t *testing.T) {
	p := newPipeline(t)
	corpus := BuildCorpus()
	c := corpus.Calls[0]

	p.postForm(t, "/webhooks/voice", url.Values{"CallSid": {c.CallID}, "From": {c.FromNumber}})
	p.postForm(t, "/webhooks/transcription", url.Values{
		"CallSid": {c.CallID}, "TranscriptionText": {c.Transcript}, "TranscriptionStatus": {"completed"},
	})
	p.waitIndexed(t, corpus.Calls[:1])

	rec, err := p.corr.Get(context.Background(), c.CallID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FromNumber != c.FromNumber {
		t.Errorf("from_number: got %q, want %q", rec.FromNumber, c.FromNumber)
	}
	if rec.TranscriptText != c.Transcript {
		t.Errorf("transcript: got %q", rec.TranscriptText)
	}

	resp := p.search(t, "water heater", models.ModeSemantic)
	if len(resp.Results) == 0 || resp.Results[0].DocID != c.CallID {
		t.Fatalf("expected %s first, got %v", c.CallID, topIDs(resp, 5))
	}
	if resp.Results[0].Metadata.FromNumber != c.FromNumber {
		t.Errorf("metadata from_number: got %q", resp.Results[0].Metadata.FromNumber)
	}
}
