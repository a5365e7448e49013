package search

import (
	"sort"

	"github.com/hyperjump/callmind/internal/keyword"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/vector"
)

// candidate is one document with its per-source scores before ranking.
type candidate struct {
	DocID         string
	Text          string
	Metadata      models.DocumentMetadata
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// semanticCandidates converts vector hits to candidates keyed by doc id, keeping the best
// score when a doc id appears more than once.
func semanticCandidates(hits []*vector.Hit) map[string]*candidate {
	out := make(map[string]*candidate, len(hits))
	for _, h := range hits {
		if c, ok := out[h.DocID]; ok && c.SemanticScore >= h.Score {
			continue
		}
		out[h.DocID] = &candidate{DocID: h.DocID, Text: h.Text, Metadata: h.Metadata, SemanticScore: h.Score}
	}
	return out
}

// keywordCandidates converts keyword hits to candidates with scores normalized to [0,1] by max.
func keywordCandidates(hits []*keyword.Hit) map[string]*candidate {
	out := make(map[string]*candidate, len(hits))
	if len(hits) == 0 {
		return out
	}
	maxScore := hits[0].Score
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		norm := 0.0
		if maxScore > 0 {
			norm = h.Score / maxScore
		}
		if c, ok := out[h.DocID]; ok && c.KeywordScore >= norm {
			continue
		}
		out[h.DocID] = &candidate{DocID: h.DocID, Text: h.Text, Metadata: h.Metadata, KeywordScore: norm}
	}
	return out
}

// fuse merges keyword and semantic candidates with weights. Documents found by only one
// source score zero for the other.
func fuse(keywordScores, semanticScores map[string]*candidate, keywordWeight, semanticWeight float64) []*candidate {
	merged := make(map[string]*candidate, len(keywordScores)+len(semanticScores))
	for id, c := range semanticScores {
		cp := *c
		merged[id] = &cp
	}
	for id, c := range keywordScores {
		if m, ok := merged[id]; ok {
			m.KeywordScore = c.KeywordScore
			continue
		}
		cp := *c
		merged[id] = &cp
	}
	out := make([]*candidate, 0, len(merged))
	for _, c := range merged {
		c.Score = keywordWeight*c.KeywordScore + semanticWeight*c.SemanticScore
		out = append(out, c)
	}
	rank(out)
	return out
}

// rank sorts by score descending, newest first on ties, doc id last for a stable order.
func rank(cands []*candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Metadata.Timestamp.Equal(b.Metadata.Timestamp) {
			return a.Metadata.Timestamp.After(b.Metadata.Timestamp)
		}
		return a.DocID < b.DocID
	})
}
