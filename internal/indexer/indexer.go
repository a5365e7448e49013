// Package indexer embeds call transcripts and writes them to the vector and keyword indexes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/embedding"
	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/vector"
)

// ErrNotIndexable is returned by Index when the record left TRANSCRIBED before it could be
// marked INDEXED.
var ErrNotIndexable = errors.New("record no longer indexable")

// StatusSink receives the outcome of indexing a record. The correlator implements it;
// these are the only paths by which indexing moves a record's status.
type StatusSink interface {
	MarkIndexed(ctx context.Context, callID string, receipt *models.IndexReceipt) (*models.CallRecord, error)
	MarkFailed(ctx context.Context, callID, reason string) (*models.CallRecord, error)
}

// Indexer turns TRANSCRIBED call records into searchable transcript documents.
type Indexer struct {
	embedder     embedding.Embedder
	vectorIndex  vector.Index
	keywordIndex keyword.Index // optional
	status       StatusSink
	chunker      *Chunker
	cfg          config.IndexingConfig
	embedTimeout time.Duration
	indexTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for attempt and outcome logging.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records attempts and durations on m.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) IndexerOption {
	return func(idx *Indexer) { idx.sleep = fn }
}

// NewIndexer creates an indexer. keywordIndex may be nil, in which case only the vector
// index is written.
func NewIndexer(
	embedder embedding.Embedder,
	vectorIndex vector.Index,
	keywordIndex keyword.Index,
	status StatusSink,
	cfg *config.Config,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		status:       status,
		chunker:      NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap),
		cfg:          cfg.Indexing,
		embedTimeout: cfg.Embedding.Timeout,
		indexTimeout: cfg.Index.Timeout,
		sleep:        sleepCtx,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if idx.cfg.MaxAttempts < 1 {
		idx.cfg.MaxAttempts = 1
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Index embeds rec's transcript and upserts it under doc_id = call_id, retrying transient
// failures with exponential backoff. On success the record is marked INDEXED; when attempts
// run out or a fatal error occurs, partial writes are removed and the record is marked FAILED
// with reason INDEXING_FAILED.
func (idx *Indexer) Index(ctx context.Context, rec *models.CallRecord) (*models.IndexReceipt, error) {
	if rec.TranscriptText == "" {
		return nil, models.Fatal("index", fmt.Errorf("call %q has no transcript", rec.CallID))
	}
	if rec.Status != models.StatusTranscribed && rec.Status != models.StatusIndexed {
		return nil, models.Fatal("index", fmt.Errorf("call %q is %s, not indexable", rec.CallID, rec.Status))
	}
	start := time.Now()
	defer func() { idx.metrics.ObserveIndex(time.Since(start)) }()

	doc := models.DocumentFromRecord(rec)
	doc.Text = Preprocess(doc.Text)

	backoff := idx.cfg.InitialBackoff
	var lastErr error
	attempt := 0
	for attempt < idx.cfg.MaxAttempts {
		attempt++
		err := idx.attempt(ctx, doc)
		if err == nil {
			receipt := &models.IndexReceipt{
				ID:         uuid.New().String(),
				DocID:      doc.DocID,
				Dimensions: len(doc.Embedding),
				Attempts:   attempt,
				IndexedAt:  idx.now(),
			}
			bg := context.WithoutCancel(ctx)
			marked, err := idx.status.MarkIndexed(bg, rec.CallID, receipt)
			if err != nil {
				return nil, fmt.Errorf("failed to mark call indexed: %w", err)
			}
			if marked.Status != models.StatusIndexed {
				// The call failed while it was being indexed; its document must not stay searchable.
				idx.removePartial(bg, doc.DocID)
				idx.metrics.IndexAttempt("abandoned")
				if idx.logger != nil {
					idx.logger.Warn("call left TRANSCRIBED during indexing, document removed",
						zap.String("call_id", rec.CallID), zap.String("status", string(marked.Status)))
				}
				return nil, models.Fatal("index", fmt.Errorf("call %q is %s: %w", rec.CallID, marked.Status, ErrNotIndexable))
			}
			idx.metrics.IndexAttempt("success")
			if idx.logger != nil {
				idx.logger.Info("transcript indexed", zap.String("call_id", rec.CallID),
					zap.Int("attempt", attempt), zap.String("receipt_id", receipt.ID))
			}
			return receipt, nil
		}
		lastErr = err
		if idx.logger != nil {
			idx.logger.Warn("index attempt failed", zap.String("call_id", rec.CallID),
				zap.Int("attempt", attempt), zap.Error(err))
		}
		if models.IsProviderFatal(err) || ctx.Err() != nil || attempt == idx.cfg.MaxAttempts {
			break
		}
		idx.metrics.IndexAttempt("retry")
		if err := idx.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
		if idx.cfg.MaxBackoff > 0 && backoff > idx.cfg.MaxBackoff {
			backoff = idx.cfg.MaxBackoff
		}
	}

	idx.metrics.IndexAttempt("failed")
	// The status update and cleanup must happen even when ctx was cancelled mid-retry.
	bg := context.WithoutCancel(ctx)
	if rec.Status == models.StatusTranscribed {
		idx.removePartial(bg, doc.DocID)
		if _, err := idx.status.MarkFailed(bg, rec.CallID, models.ReasonIndexingFailed); err != nil && idx.logger != nil {
			idx.logger.Error("failed to mark call failed", zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
	if idx.logger != nil {
		idx.logger.Error("indexing gave up", zap.String("call_id", rec.CallID),
			zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return nil, models.Fatal("index", fmt.Errorf("gave up after %d attempts: %w", attempt, lastErr))
}

func (idx *Indexer) attempt(ctx context.Context, doc *models.TranscriptDocument) error {
	vec, err := idx.embed(ctx, EmbeddingText(doc.Text))
	if err != nil {
		return classify("embed", err)
	}
	doc.Embedding = vec

	uctx, cancel := idx.withTimeout(ctx, idx.indexTimeout)
	err = idx.vectorIndex.Upsert(uctx, doc)
	cancel()
	if err != nil {
		if errors.Is(err, vector.ErrDimensionMismatch) || errors.Is(err, vector.ErrClosed) {
			return models.Fatal("upsert", err)
		}
		return classify("upsert", err)
	}

	if idx.keywordIndex != nil {
		kctx, cancel := idx.withTimeout(ctx, idx.indexTimeout)
		err = idx.keywordIndex.Index(kctx, doc)
		cancel()
		if err != nil {
			return classify("keyword index", err)
		}
	}
	return nil
}

// embed returns one vector for text. Long transcripts are embedded per chunk and the chunk
// vectors mean-pooled, then re-normalized.
func (idx *Indexer) embed(ctx context.Context, text string) ([]float32, error) {
	chunks := idx.chunker.Chunk(text)
	if len(chunks) <= 1 {
		ectx, cancel := idx.withTimeout(ctx, idx.embedTimeout)
		defer cancel()
		return idx.embedder.Embed(ectx, text)
	}
	var sum []float32
	for _, ch := range chunks {
		ectx, cancel := idx.withTimeout(ctx, idx.embedTimeout)
		vec, err := idx.embedder.Embed(ectx, ch)
		cancel()
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		for i := range vec {
			sum[i] += vec[i]
		}
	}
	embedding.NormalizeL2Slice(sum)
	return sum, nil
}

func (idx *Indexer) removePartial(ctx context.Context, docID string) {
	dctx, cancel := idx.withTimeout(ctx, idx.indexTimeout)
	defer cancel()
	if err := idx.vectorIndex.Delete(dctx, docID); err != nil && idx.logger != nil {
		idx.logger.Debug("vector cleanup failed", zap.String("call_id", docID), zap.Error(err))
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(dctx, docID); err != nil && idx.logger != nil {
			idx.logger.Debug("keyword cleanup failed", zap.String("call_id", docID), zap.Error(err))
		}
	}
}

func (idx *Indexer) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify keeps provider errors as they are and treats anything else, timeouts included,
// as transient.
func classify(op string, err error) error {
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return models.Transient(op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
