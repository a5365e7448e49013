// Package storage defines the persistence interface for call records and event receipts.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/callmind/internal/models"
)

// Receipt identifies one applied inbound event. A receipt is written in the same transaction
// as the record mutation it caused, so a redelivered event can be recognized after a restart.
type Receipt struct {
	CallID      string
	Kind        models.EventKind
	PayloadHash string
	ReceivedAt  time.Time
}

// Store defines call record persistence operations. Records are never deleted.
type Store interface {
	// GetRecord returns the record for callID or an error wrapping models.ErrNotFound.
	GetRecord(ctx context.Context, callID string) (*models.CallRecord, error)
	// SaveRecord inserts or replaces rec. A non-nil receipt is stored atomically with it.
	SaveRecord(ctx context.Context, rec *models.CallRecord, receipt *Receipt) error
	HasReceipt(ctx context.Context, r Receipt) (bool, error)
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CallRecord, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)

	Close() error
}
