// Package search answers natural-language queries over indexed call transcripts.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/embedding"
	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/vector"
)

// RecordLister lists call records; storage.Store satisfies it.
type RecordLister interface {
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CallRecord, error)
}

// IndexInfo describes the searchable collection.
type IndexInfo struct {
	Backend       string `json:"backend"`
	Documents     int    `json:"documents"`
	KeywordDocs   int    `json:"keyword_documents"`
	Dimensions    int    `json:"dimensions"`
	KeywordSearch bool   `json:"keyword_search"`
}

// Engine runs semantic, keyword and hybrid search over transcripts.
type Engine struct {
	embedder     embedding.Embedder
	vectorIndex  vector.Index
	keywordIndex keyword.Index // optional; keyword and hybrid modes need it
	records      RecordLister
	config       config.SearchConfig
	backend      string
	timeout      time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for failed queries.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records query latency and outcome on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine. embedder must be the instance used for indexing so
// query and document vectors share one space.
func NewEngine(
	embedder embedding.Embedder,
	vectorIndex vector.Index,
	keywordIndex keyword.Index,
	records RecordLister,
	cfg *config.Config,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		records:      records,
		config:       cfg.Search,
		backend:      cfg.Index.Backend,
		timeout:      cfg.Index.Timeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns up to limit transcripts most similar in meaning to query, best first.
// limit is clamped to [1, max_limit]. A blank query fails with models.ErrInvalidQuery and an
// unreachable embedder or index with models.ErrSearchUnavailable. No match is an empty slice.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]*models.SearchResult, error) {
	if limit < models.MinLimit {
		limit = models.MinLimit
	}
	resp, err := e.Query(ctx, &models.SearchQuery{Query: query, Limit: limit, Mode: models.ModeSemantic})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Query runs a search request with mode and filters.
func (e *Engine) Query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	resp, err := e.query(ctx, q)
	outcome, mode := "ok", q.Mode
	switch {
	case models.IsInvalidQuery(err):
		outcome, mode = "invalid", "unknown"
	case err != nil:
		outcome = "unavailable"
		if e.logger != nil {
			e.logger.Warn("search failed", zap.String("mode", q.Mode), zap.Error(err))
		}
	}
	e.metrics.SearchCompleted(mode, outcome, time.Since(start))
	return resp, err
}

func (e *Engine) query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if q.Limit == 0 && e.config.DefaultLimit > 0 {
		q.Limit = e.config.DefaultLimit
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Limit = models.ClampLimit(q.Limit, e.config.MaxLimit)

	k := q.Limit
	if q.HasFilters() || q.Mode == models.ModeHybrid {
		mult := e.config.CandidateMultiplier
		if mult < 1 {
			mult = 1
		}
		k *= mult
	}

	var cands []*candidate
	switch q.Mode {
	case models.ModeKeyword:
		kw, err := e.keywordSearch(ctx, q, k)
		if err != nil {
			return nil, err
		}
		for _, c := range kw {
			c.Score = c.KeywordScore
			cands = append(cands, c)
		}
	case models.ModeHybrid:
		var (
			sem, kw       map[string]*candidate
			semErr, kwErr error
			wg            sync.WaitGroup
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			sem, semErr = e.semanticSearch(ctx, q.Query, k)
		}()
		go func() {
			defer wg.Done()
			kw, kwErr = e.keywordSearch(ctx, q, k)
		}()
		wg.Wait()
		if semErr != nil {
			return nil, semErr
		}
		if kwErr != nil {
			return nil, kwErr
		}
		w := e.config.HybridKeywordWeight()
		cands = fuse(kw, sem, w, 1-w)
	default:
		sem, err := e.semanticSearch(ctx, q.Query, k)
		if err != nil {
			return nil, err
		}
		for _, c := range sem {
			c.Score = c.SemanticScore
			cands = append(cands, c)
		}
	}

	minScore := q.MinScore
	if minScore == 0 {
		minScore = e.config.MinScore
	}
	filtered := cands[:0]
	for _, c := range cands {
		if q.FromNumber != "" && c.Metadata.FromNumber != q.FromNumber {
			continue
		}
		if q.ToNumber != "" && c.Metadata.ToNumber != q.ToNumber {
			continue
		}
		if minScore > 0 && c.Score <= minScore {
			continue
		}
		filtered = append(filtered, c)
	}
	rank(filtered)

	total := len(filtered)
	if len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	resp := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(filtered)),
		Total:   total,
		Query:   q.Query,
		Mode:    q.Mode,
	}
	for i, c := range filtered {
		resp.Results = append(resp.Results, &models.SearchResult{
			DocID:         c.DocID,
			Text:          c.Text,
			Excerpt:       Highlight(c.Text, q.Query, e.config.ExcerptLength),
			Score:         c.Score,
			SemanticScore: c.SemanticScore,
			KeywordScore:  c.KeywordScore,
			Metadata:      c.Metadata,
			Rank:          i + 1,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) semanticSearch(ctx context.Context, query string, k int) (map[string]*candidate, error) {
	qctx, cancel := e.withTimeout(ctx)
	defer cancel()
	vec, err := e.embedder.Embed(qctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding failed: %w", models.ErrSearchUnavailable, err)
	}
	hits, err := e.vectorIndex.Query(qctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %w", models.ErrSearchUnavailable, err)
	}
	return semanticCandidates(hits), nil
}

func (e *Engine) keywordSearch(ctx context.Context, q *models.SearchQuery, k int) (map[string]*candidate, error) {
	if e.keywordIndex == nil {
		return nil, fmt.Errorf("%w: keyword index not configured", models.ErrSearchUnavailable)
	}
	qctx, cancel := e.withTimeout(ctx)
	defer cancel()
	hits, err := e.keywordIndex.Search(qctx, q.Query, k, &keyword.SearchOptions{
		PhraseBoost: 1.5,
		FromNumber:  q.FromNumber,
		ToNumber:    q.ToNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search failed: %w", models.ErrSearchUnavailable, err)
	}
	return keywordCandidates(hits), nil
}

// Recent returns the most recently updated INDEXED call records. No embedding is involved.
func (e *Engine) Recent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	limit = models.ClampLimit(limit, e.config.MaxLimit)
	recs, err := e.records.ListRecords(ctx, models.RecordFilter{
		Statuses: []models.Status{models.StatusIndexed},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	if recs == nil {
		recs = []*models.CallRecord{}
	}
	return recs, nil
}

// RecentDocuments returns the newest transcript documents straight from the vector index.
func (e *Engine) RecentDocuments(ctx context.Context, limit int) ([]*models.TranscriptDocument, error) {
	limit = models.ClampLimit(limit, e.config.MaxLimit)
	qctx, cancel := e.withTimeout(ctx)
	defer cancel()
	docs, err := e.vectorIndex.ListRecent(qctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
	}
	if docs == nil {
		docs = []*models.TranscriptDocument{}
	}
	return docs, nil
}

// Info reports the size of the indexes.
func (e *Engine) Info(ctx context.Context) (*IndexInfo, error) {
	qctx, cancel := e.withTimeout(ctx)
	defer cancel()
	n, err := e.vectorIndex.Count(qctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
	}
	info := &IndexInfo{
		Backend:       e.backend,
		Documents:     n,
		Dimensions:    e.embedder.Dimensions(),
		KeywordSearch: e.keywordIndex != nil,
	}
	if e.keywordIndex != nil {
		if kn, err := e.keywordIndex.Count(qctx); err == nil {
			info.KeywordDocs = kn
		}
	}
	return info, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
