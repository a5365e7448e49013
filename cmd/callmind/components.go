package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/embedding"
	"github.com/hyperjump/callmind/internal/indexer"
	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/search"
	"github.com/hyperjump/callmind/internal/storage"
	"github.com/hyperjump/callmind/internal/vector"
)

// Components holds the wired pipeline: store, correlator, indexer queue and search engine.
type Components struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Store        *storage.SQLiteStore
	Embedder     embedding.Embedder
	VectorIndex  vector.Index
	KeywordIndex keyword.Index
	Correlator   *correlator.Correlator
	Indexer      *indexer.Indexer
	Queue        *indexer.Queue
	Engine       *search.Engine
}

// Close stops the queue, waiting for accepted jobs, and closes every store.
func (c *Components) Close() {
	if c.Queue != nil {
		c.Queue.Stop()
	}
	if c.VectorIndex != nil {
		if err := c.VectorIndex.Close(); err != nil {
			c.Logger.Warn("vector index close failed", zap.Error(err))
		}
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Metrics: metrics.New()}
	var err error
	c.Store, err = storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c.Embedder, err = embedding.New(cfg.Embedding)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize %s embedder: %w", cfg.Embedding.Provider, err)
	}

	space := vector.SpaceFor(cfg.Embedding, c.Embedder.Dimensions())
	c.VectorIndex, err = vector.New(ctx, cfg.Index, cfg.Storage.VectorIndexPath, space)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("backend", cfg.Index.Backend),
		zap.Stringer("embedding_space", space))

	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Correlator = correlator.New(c.Store,
		correlator.WithLogger(logger),
		correlator.WithMetrics(c.Metrics))
	c.Indexer = indexer.NewIndexer(c.Embedder, c.VectorIndex, c.KeywordIndex, c.Correlator, cfg,
		indexer.WithLogger(logger),
		indexer.WithMetrics(c.Metrics))
	c.Queue = indexer.NewQueue(c.Indexer, c.Correlator.Get, cfg.Indexing.Workers, cfg.Indexing.QueueSize,
		indexer.WithQueueLogger(logger),
		indexer.WithQueueMetrics(c.Metrics))
	c.Correlator.OnTranscribed(func(callID string) {
		c.Queue.Enqueue(callID)
	})
	c.Engine = search.NewEngine(c.Embedder, c.VectorIndex, c.KeywordIndex, c.Store, cfg,
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics))

	c.Queue.Start(ctx)
	return c, nil
}
