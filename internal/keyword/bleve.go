package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/callmind/internal/models"
)

const (
	fieldContent   = "content"
	fieldFrom      = "from_number"
	fieldTo        = "to_number"
	fieldTimestamp = "timestamp"
)

// bleveDoc is the stored shape of a transcript in the Bleve index.
type bleveDoc struct {
	Content    string    `json:"content"`
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	Timestamp  time.Time `json:"timestamp"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an in-memory index.
// If you change the index mapping in code, remove the index directory to force a reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so "deadline" matches only "deadline".
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = true
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)

	numberMapping := bleve.NewTextFieldMapping()
	numberMapping.Analyzer = keywordanalyzer.Name
	numberMapping.Store = true
	docMapping.AddFieldMappingsAt(fieldFrom, numberMapping)
	docMapping.AddFieldMappingsAt(fieldTo, numberMapping)

	tsMapping := bleve.NewDateTimeFieldMapping()
	tsMapping.Store = true
	docMapping.AddFieldMappingsAt(fieldTimestamp, tsMapping)

	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = standard.Name

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes doc under its doc id, replacing any previous version.
func (b *BleveIndex) Index(ctx context.Context, doc *models.TranscriptDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Index(doc.DocID, bleveDoc{
		Content:    doc.Text,
		FromNumber: doc.Metadata.FromNumber,
		ToNumber:   doc.Metadata.ToNumber,
		Timestamp:  doc.Metadata.Timestamp.UTC(),
	})
}

// Search runs a match query over transcript content and returns up to limit hits.
// Multi-term queries penalize documents that match only some of the terms; with
// opts.PhraseBoost > 1 documents containing the query as a phrase are boosted.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	fuzziness := opts.Fuzziness
	if opts.FuzzyEnabled && fuzziness <= 0 {
		fuzziness = 2
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)

	req := bleve.NewSearchRequest(b.withFilters(b.buildQuery(query, terms, opts.FuzzyEnabled, fuzziness), opts))
	req.Size = reqSize
	req.Fields = []string{fieldContent, fieldFrom, fieldTo, fieldTimestamp}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, opts.FuzzyEnabled, fuzziness)
	}
	phrases := map[string]bool{}
	if opts.PhraseBoost > 1 && len(terms) > 1 {
		phrases = b.phraseMatches(ctx, query, reqSize)
	}

	hits := make([]*Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		score := h.Score
		// (matched/total)^2 so documents matching every term outrank partial matches.
		if len(terms) > 1 {
			matched := coverage[h.ID]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		if phrases[h.ID] {
			score *= opts.PhraseBoost
		}
		hit := &Hit{DocID: h.ID, Score: score}
		hit.Text, _ = h.Fields[fieldContent].(string)
		hit.Metadata.FromNumber, _ = h.Fields[fieldFrom].(string)
		hit.Metadata.ToNumber, _ = h.Fields[fieldTo].(string)
		if ts, ok := h.Fields[fieldTimestamp].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				hit.Metadata.Timestamp = t
			}
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Metadata.Timestamp.After(hits[j].Metadata.Timestamp)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (b *BleveIndex) buildQuery(query string, terms []string, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldContent)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldContent)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func (b *BleveIndex) withFilters(q blevequery.Query, opts *SearchOptions) blevequery.Query {
	if opts.FromNumber == "" && opts.ToNumber == "" {
		return q
	}
	must := []blevequery.Query{q}
	if opts.FromNumber != "" {
		tq := bleve.NewTermQuery(opts.FromNumber)
		tq.SetField(fieldFrom)
		must = append(must, tq)
	}
	if opts.ToNumber != "" {
		tq := bleve.NewTermQuery(opts.ToNumber)
		tq.SetField(fieldTo)
		must = append(must, tq)
	}
	return bleve.NewConjunctionQuery(must...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// termCoverage counts how many query terms each document matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		req := bleve.NewSearchRequest(b.buildQuery(term, []string{term}, fuzzy, fuzziness))
		req.Size = reqSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// phraseMatches finds documents where the query appears as a phrase.
func (b *BleveIndex) phraseMatches(ctx context.Context, query string, reqSize int) map[string]bool {
	matches := make(map[string]bool)
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField(fieldContent)
	req := bleve.NewSearchRequest(pq)
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return matches
	}
	for _, hit := range results.Hits {
		matches[hit.ID] = true
	}
	return matches
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, docID string) error {
	return b.index.Delete(docID)
}

// Count returns the total number of documents in the index.
func (b *BleveIndex) Count(ctx context.Context) (int, error) {
	n, err := b.index.DocCount()
	return int(n), err
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
