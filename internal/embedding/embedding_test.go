package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/models"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i] * b[i])
	}
	return s
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	doc, err := e.Embed(ctx, "We discussed the project deadline")
	require.NoError(t, err)
	assert.Len(t, doc, 256)

	again, _ := e.Embed(ctx, "We discussed the project deadline")
	assert.Equal(t, doc, again, "embedding must be deterministic")

	query, _ := e.Embed(ctx, "project deadline")
	unrelated, _ := e.Embed(ctx, "pizza order")

	assert.Greater(t, dot(doc, query), 0.5)
	assert.Greater(t, dot(doc, query), dot(doc, unrelated))
	assert.InDelta(t, 1.0, dot(doc, doc), 1e-5)
}

func TestHashEmbedder_emptyText(t *testing.T) {
	e := NewHashEmbedder(8)
	v, err := e.Embed(context.Background(), "the and of")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, models.Transient("embed", errors.New("down"))
	}
	return []float32{float32(len(text))}, nil
}
func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := c.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{5}, v)
	}
	assert.EqualValues(t, 1, inner.calls.Load())

	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "cc") // evicts hello
	assert.Equal(t, 2, c.Len())
	_, _ = c.Embed(ctx, "hello")
	assert.EqualValues(t, 4, inner.calls.Load())
}

func TestCachedEmbedder_doesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	c, err := NewCachedEmbedder(inner, 4)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Zero(t, c.Len())
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			assert.Equal(t, []string{"hello"}, req.Input)
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{3, 4}}})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 2)
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.NoError(t, e.Health(context.Background()))
}

func TestOllamaEmbedder_errors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "m", 2)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrProviderTransient)

	status.Store(http.StatusNotFound)
	_, err = e.Embed(context.Background(), "x")
	assert.True(t, models.IsProviderFatal(err), "404 should be fatal: %v", err)
}

func TestOpenAIEmbedder(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0,3,4]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "text-embedding-3-small", 3)
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v[2], 1e-6)

	status.Store(http.StatusInternalServerError)
	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, models.ErrProviderTransient)

	status.Store(http.StatusUnauthorized)
	_, err = e.Embed(context.Background(), "hello")
	assert.True(t, models.IsProviderFatal(err), "401 should be fatal: %v", err)
}

func TestOpenAIEmbedder_dimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", srv.URL, "m", 3)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.True(t, models.IsProviderFatal(err))
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "hash", Dimensions: 16, CacheSize: 10})
	require.NoError(t, err)
	defer e.Close()
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)
	assert.Equal(t, 16, e.Dimensions())

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)

	_, err = New(config.EmbeddingConfig{Provider: "openai"})
	assert.Error(t, err, "openai without key must fail")
}
