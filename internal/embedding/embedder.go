// Package embedding provides text embedding providers (ONNX, OpenAI, Ollama, hashing) and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/callmind/internal/config"
)

// Embedder produces vector embeddings for text. Implementations return vectors of exactly
// Dimensions() elements; transient failures wrap models.ErrProviderTransient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg, wrapped in an LRU cache when cfg.CacheSize > 0.
// Transcripts and queries must be embedded by the same instance.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "hash":
		e = NewHashEmbedder(cfg.Dimensions)
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: hash, onnx, openai, ollama)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

func checkDimensions(got []float32, want int) error {
	if want > 0 && len(got) != want {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(got), want)
	}
	return nil
}
