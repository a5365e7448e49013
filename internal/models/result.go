package models

import "time"

// DocumentMetadata is the metadata attached to an indexed transcript.
type DocumentMetadata struct {
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptDocument is the index-side projection of an INDEXED call record. DocID is the call id.
type TranscriptDocument struct {
	DocID     string           `json:"doc_id"`
	Text      string           `json:"text"`
	Embedding []float32        `json:"-"`
	Metadata  DocumentMetadata `json:"metadata"`
}

// DocumentFromRecord projects rec into a document without an embedding.
func DocumentFromRecord(rec *CallRecord) *TranscriptDocument {
	return &TranscriptDocument{
		DocID: rec.CallID,
		Text:  rec.TranscriptText,
		Metadata: DocumentMetadata{
			FromNumber: rec.FromNumber,
			ToNumber:   rec.ToNumber,
			Timestamp:  rec.CreatedAt,
		},
	}
}

// SearchResult represents a single transcript hit.
type SearchResult struct {
	DocID         string           `json:"doc_id"`
	Text          string           `json:"text"`
	Excerpt       string           `json:"excerpt,omitempty"`
	Score         float64          `json:"score"`
	SemanticScore float64          `json:"semantic_score,omitempty"`
	KeywordScore  float64          `json:"keyword_score,omitempty"`
	Metadata      DocumentMetadata `json:"metadata"`
	Rank          int              `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	QueryTime int64           `json:"query_time_ms"`
}

// IndexReceipt records a successful upsert of a transcript document.
type IndexReceipt struct {
	ID         string    `json:"id"`
	DocID      string    `json:"doc_id"`
	Dimensions int       `json:"dimensions"`
	Attempts   int       `json:"attempts"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Instruction tells the transport layer how to answer the provider.
type Instruction string

const (
	InstructionNone                            Instruction = ""
	InstructionStartRecordingWithTranscription Instruction = "START_RECORDING_WITH_TRANSCRIPTION"
)
