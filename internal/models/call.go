// Package models defines core data structures for call records, events, transcript documents, and search results.
package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle stage of a call record.
type Status string

const (
	StatusRinging     Status = "RINGING"
	StatusRecording   Status = "RECORDING"
	StatusRecorded    Status = "RECORDED"
	StatusTranscribed Status = "TRANSCRIBED"
	StatusIndexed     Status = "INDEXED"
	StatusFailed      Status = "FAILED"
)

// Failure reasons persisted on FAILED records.
const (
	ReasonIndexingFailed      = "INDEXING_FAILED"
	ReasonStageTimeout        = "STAGE_TIMEOUT"
	ReasonTranscriptionFailed = "TRANSCRIPTION_FAILED"
	ReasonMalformedEvent      = "MALFORMED_EVENT"
)

var statusOrder = map[Status]int{
	StatusRinging:     1,
	StatusRecording:   2,
	StatusRecorded:    3,
	StatusTranscribed: 4,
	StatusIndexed:     5,
}

// ParseStatus converts s to a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status: %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusIndexed
}

// AtLeast reports whether s is at or past other in the forward ordering.
// FAILED is outside the ordering and never compares as at least anything.
func (s Status) AtLeast(other Status) bool {
	a, ok := statusOrder[s]
	if !ok {
		return false
	}
	return a >= statusOrder[other]
}

// CallRecord is the correlated state of one phone call.
type CallRecord struct {
	CallID         string    `json:"call_id" db:"call_id"`
	FromNumber     string    `json:"from_number,omitempty" db:"from_number"`
	ToNumber       string    `json:"to_number,omitempty" db:"to_number"`
	Status         Status    `json:"status" db:"status"`
	FailureReason  string    `json:"failure_reason,omitempty" db:"failure_reason"`
	RecordingURL   string    `json:"recording_url,omitempty" db:"recording_url"`
	TranscriptText string    `json:"transcript_text,omitempty" db:"transcript_text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// NewCallRecord returns a RINGING record for callID created at now.
func NewCallRecord(callID string, now time.Time) *CallRecord {
	return &CallRecord{
		CallID:    callID,
		Status:    StatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy of r.
func (r *CallRecord) Clone() *CallRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Advance moves r forward to status to. It returns false and leaves r untouched when r is
// terminal or already at or past to.
func (r *CallRecord) Advance(to Status) bool {
	if r.Status.Terminal() || r.Status.AtLeast(to) {
		return false
	}
	r.Status = to
	return true
}

// Fail moves r to FAILED with reason unless r is already terminal.
func (r *CallRecord) Fail(reason string) bool {
	if r.Status.Terminal() {
		return false
	}
	r.Status = StatusFailed
	r.FailureReason = reason
	return true
}

// Indexable reports whether r holds a transcript and is waiting for the indexer.
func (r *CallRecord) Indexable() bool {
	return r.Status == StatusTranscribed && r.TranscriptText != ""
}

// RecordFilter selects call records for listing.
type RecordFilter struct {
	Statuses      []Status
	FromNumber    string
	ToNumber      string
	UpdatedBefore time.Time
	Limit         int
}
