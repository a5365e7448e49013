package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/callmind/internal/config"
)

// ErrSpaceMismatch is returned when an index was built by a different embedder than the one
// opening it. Vectors from different models are not comparable: delete the vector index and
// run callmind reindex --all, or restore the embedding config.
var ErrSpaceMismatch = errors.New("embedding space mismatch")

// Space identifies the embedding space of an index: the provider, its model and the vector
// dimension. Two embedders with equal spaces produce comparable vectors.
type Space struct {
	Provider   string
	Model      string
	Dimensions int
}

func (s Space) String() string {
	return fmt.Sprintf("%s:%s:%d", s.Provider, s.Model, s.Dimensions)
}

// SpaceFor returns the space of the embedder built from cfg, whose vectors have dimensions
// elements. ONNX models are identified by file name so a moved model directory still matches.
func SpaceFor(cfg config.EmbeddingConfig, dimensions int) Space {
	s := Space{Provider: cfg.Provider, Model: cfg.Model, Dimensions: dimensions}
	switch cfg.Provider {
	case "hash":
		s.Model = ""
	case "onnx":
		s.Model = filepath.Base(cfg.ModelPath)
	}
	return s
}

// spaceBinder is implemented by indexes that persist the space they were built in.
type spaceBinder interface {
	bindSpace(ctx context.Context, space Space) error
}

func mismatch(stored string, want Space) error {
	return fmt.Errorf("%w: index was built with %s, embedder is %s", ErrSpaceMismatch, stored, want)
}
