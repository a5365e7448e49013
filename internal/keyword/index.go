// Package keyword provides BM25 keyword indexing of call transcripts.
package keyword

import (
	"context"

	"github.com/hyperjump/callmind/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score when query terms appear adjacent in the transcript.
	// Values > 1 boost documents with phrase matches (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables typo tolerance using terms within Fuzziness edits.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	Fuzziness int
	// FromNumber and ToNumber restrict hits to exact caller or callee numbers when set.
	FromNumber string
	ToNumber   string
}

// Index defines keyword search operations over transcript documents.
type Index interface {
	Index(ctx context.Context, doc *models.TranscriptDocument) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	Delete(ctx context.Context, docID string) error
	// Count returns the total number of documents in the index.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Hit is a single keyword search hit.
type Hit struct {
	DocID    string
	Score    float64
	Text     string
	Metadata models.DocumentMetadata
}
