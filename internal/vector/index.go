// Package vector provides transcript vector indexes and similarity search.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/callmind/internal/models"
)

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("vector index is closed")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Index stores one transcript document per doc id and answers nearest-neighbour queries.
// Upsert replaces any existing document with the same id.
type Index interface {
	Upsert(ctx context.Context, doc *models.TranscriptDocument) error
	// Query returns up to limit documents ordered by descending similarity to vector.
	Query(ctx context.Context, vector []float32, limit int) ([]*Hit, error)
	// ListRecent returns up to limit documents, newest metadata timestamp first.
	ListRecent(ctx context.Context, limit int) ([]*models.TranscriptDocument, error)
	Delete(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Hit is a single vector search hit.
type Hit struct {
	DocID    string
	Score    float64 // inner product of normalized vectors
	Text     string
	Metadata models.DocumentMetadata
}

func checkDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
