package vector

import (
	"sort"

	"github.com/hyperjump/callmind/internal/models"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// topK sorts hits by score (newest first on ties) and keeps the best k.
func topK(hits []*Hit, k int) []*Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Metadata.Timestamp.After(hits[j].Metadata.Timestamp)
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func sortRecent(docs []*models.TranscriptDocument, limit int) []*models.TranscriptDocument {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Metadata.Timestamp.After(docs[j].Metadata.Timestamp)
	})
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
