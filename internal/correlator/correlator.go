// Package correlator merges provider callbacks for one phone call into a single call record.
//
// Events may arrive in any order and may be redelivered. Each event is identified by
// (call_id, kind, payload hash); an event whose receipt is already stored is a no-op.
// Status only moves forward through RINGING, RECORDING, RECORDED, TRANSCRIBED and INDEXED,
// and FAILED is terminal. All mutations of one call id are serialized by a keyed lock.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/eventid"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/storage"
)

// TranscribedFunc is called, outside the per-call lock, each time a record needs indexing:
// on the transition into TRANSCRIBED and when an INDEXED record's metadata changes.
type TranscribedFunc func(callID string)

// Delivery is the outcome of one inbound event.
type Delivery struct {
	Record      *models.CallRecord
	Instruction models.Instruction
	Duplicate   bool
}

// Correlator applies inbound events to call records.
type Correlator struct {
	store         storage.Store
	locks         *keyedMutex
	onTranscribed TranscribedFunc
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets a logger for event tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// WithMetrics records event outcomes and transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates a correlator over store.
func New(store storage.Store, opts ...Option) *Correlator {
	c := &Correlator{
		store: store,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTranscribed registers fn as the indexing hook. Call before delivering events.
func (c *Correlator) OnTranscribed(fn TranscribedFunc) {
	c.onTranscribed = fn
}

// Deliver validates a loosely typed payload and applies it. A payload missing a required
// field fails the call record and returns an error wrapping models.ErrMalformedEvent
// together with the failed record.
func (c *Correlator) Deliver(ctx context.Context, callID string, kind models.EventKind, payload map[string]string) (*Delivery, error) {
	hash := eventid.PayloadHash(payload)
	ev, err := models.ParseEvent(callID, kind, payload, hash)
	if err != nil {
		var ee *models.EventError
		if !errors.As(err, &ee) || ee.Field == "call_id" || ee.Field == "kind" {
			c.metrics.EventReceived(string(kind), metrics.OutcomeMalformed)
			return nil, err
		}
		rec, ferr := c.failMalformed(ctx, ee)
		if ferr != nil {
			return nil, ferr
		}
		return &Delivery{Record: rec}, err
	}

	rec, dup, err := c.handle(ctx, ev)
	if err != nil {
		return nil, err
	}
	d := &Delivery{Record: rec, Duplicate: dup, Instruction: models.InstructionNone}
	if kind == models.EventCallStarted {
		// The provider waits on this response to start recording, so answer redeliveries too.
		d.Instruction = models.InstructionStartRecordingWithTranscription
	}
	return d, nil
}

// HandleEvent applies a validated event and returns the resulting record.
// A redelivered event returns the current record unchanged.
func (c *Correlator) HandleEvent(ctx context.Context, ev models.Event) (*models.CallRecord, error) {
	rec, _, err := c.handle(ctx, ev)
	return rec, err
}

func (c *Correlator) handle(ctx context.Context, ev models.Event) (*models.CallRecord, bool, error) {
	h := ev.Header()
	kind := ev.Kind()

	var (
		rec     *models.CallRecord
		dup     bool
		enqueue bool
	)
	err := c.withLock(h.CallID, func() error {
		receipt := &storage.Receipt{CallID: h.CallID, Kind: kind, PayloadHash: h.PayloadHash, ReceivedAt: c.now()}
		seen, err := c.store.HasReceipt(ctx, *receipt)
		if err != nil {
			return fmt.Errorf("failed to check receipt: %w", err)
		}
		current, err := c.load(ctx, h.CallID)
		if err != nil {
			return err
		}
		if seen && current != nil {
			rec, dup = current, true
			return nil
		}

		now := c.now()
		created := current == nil
		if created {
			current = models.NewCallRecord(h.CallID, now)
		}
		before := current.Clone()

		if current.Status == models.StatusFailed {
			// Keep the receipt so the redelivery is recognized, but leave the record alone.
			if err := c.store.SaveRecord(ctx, current, receipt); err != nil {
				return fmt.Errorf("failed to save receipt: %w", err)
			}
			c.metrics.EventReceived(string(kind), metrics.OutcomeIgnored)
			rec = current
			return nil
		}

		enqueue = apply(current, ev)
		if created || *before != *current {
			current.UpdatedAt = now
		}
		if err := c.store.SaveRecord(ctx, current, receipt); err != nil {
			return fmt.Errorf("failed to save call record: %w", err)
		}
		if before.Status != current.Status {
			c.metrics.StatusChanged(string(current.Status))
		}
		c.metrics.EventReceived(string(kind), metrics.OutcomeApplied)
		if c.logger != nil {
			c.logger.Debug("event applied",
				zap.String("call_id", h.CallID),
				zap.String("kind", string(kind)),
				zap.String("from_status", string(before.Status)),
				zap.String("status", string(current.Status)))
		}
		rec = current
		return nil
	})
	if err != nil {
		c.metrics.EventReceived(string(kind), metrics.OutcomeError)
		return nil, false, err
	}
	if dup {
		c.metrics.EventReceived(string(kind), metrics.OutcomeDuplicate)
		if c.logger != nil {
			c.logger.Debug("duplicate event", zap.String("call_id", h.CallID), zap.String("kind", string(kind)))
		}
	}
	if enqueue && c.onTranscribed != nil {
		c.onTranscribed(h.CallID)
	}
	return rec.Clone(), dup, nil
}

// apply mutates rec for ev and reports whether the record needs (re)indexing.
func apply(rec *models.CallRecord, ev models.Event) bool {
	wasIndexed := rec.Status == models.StatusIndexed
	from, to := rec.FromNumber, rec.ToNumber

	switch e := ev.(type) {
	case models.CallStarted:
		fillBlank(&rec.FromNumber, e.FromNumber)
		fillBlank(&rec.ToNumber, e.ToNumber)
		rec.Advance(models.StatusRecording)
	case models.RecordingReady:
		rec.RecordingURL = e.RecordingURL
		rec.Advance(models.StatusRecorded)
	case models.TranscriptionReady:
		fillBlank(&rec.FromNumber, e.FromNumber)
		fillBlank(&rec.ToNumber, e.ToNumber)
		fillBlank(&rec.RecordingURL, e.RecordingURL)
		if !e.Completed() {
			if rec.TranscriptText == "" {
				rec.Fail(models.ReasonTranscriptionFailed)
			}
			return false
		}
		// First transcript wins; a different transcript for the same call is not merged.
		fillBlank(&rec.TranscriptText, e.TranscriptText)
		if rec.Advance(models.StatusTranscribed) {
			return true
		}
	}
	return wasIndexed && (rec.FromNumber != from || rec.ToNumber != to)
}

func fillBlank(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func (c *Correlator) failMalformed(ctx context.Context, ee *models.EventError) (*models.CallRecord, error) {
	c.metrics.EventReceived(string(ee.Kind), metrics.OutcomeMalformed)
	var rec *models.CallRecord
	err := c.withLock(ee.Header.CallID, func() error {
		receipt := &storage.Receipt{CallID: ee.Header.CallID, Kind: ee.Kind, PayloadHash: ee.Header.PayloadHash, ReceivedAt: c.now()}
		current, err := c.load(ctx, ee.Header.CallID)
		if err != nil {
			return err
		}
		now := c.now()
		if current == nil {
			current = models.NewCallRecord(ee.Header.CallID, now)
		}
		if current.Fail(ee.Reason()) {
			current.UpdatedAt = now
			c.metrics.StatusChanged(string(models.StatusFailed))
		}
		if err := c.store.SaveRecord(ctx, current, receipt); err != nil {
			return fmt.Errorf("failed to save call record: %w", err)
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Warn("malformed event", zap.String("call_id", ee.Header.CallID),
			zap.String("kind", string(ee.Kind)), zap.String("field", ee.Field))
	}
	return rec.Clone(), nil
}

// Get returns the record for callID or an error wrapping models.ErrNotFound.
func (c *Correlator) Get(ctx context.Context, callID string) (*models.CallRecord, error) {
	return c.store.GetRecord(ctx, callID)
}

// List returns records matching filter, most recently updated first.
func (c *Correlator) List(ctx context.Context, filter models.RecordFilter) ([]*models.CallRecord, error) {
	return c.store.ListRecords(ctx, filter)
}

// MarkIndexed moves a TRANSCRIBED record to INDEXED. It is a no-op for records that are
// already INDEXED or FAILED.
func (c *Correlator) MarkIndexed(ctx context.Context, callID string, receipt *models.IndexReceipt) (*models.CallRecord, error) {
	return c.transition(ctx, callID, false, func(rec *models.CallRecord) bool {
		if rec.Status != models.StatusTranscribed {
			return false
		}
		return rec.Advance(models.StatusIndexed)
	}, zap.Stringp("receipt_id", receiptID(receipt)))
}

// MarkFailed moves an existing non-terminal record to FAILED with reason.
func (c *Correlator) MarkFailed(ctx context.Context, callID, reason string) (*models.CallRecord, error) {
	return c.transition(ctx, callID, false, func(rec *models.CallRecord) bool {
		return rec.Fail(reason)
	}, zap.String("reason", reason))
}

// Fail is MarkFailed for provider-reported failures: the record is created when unseen.
func (c *Correlator) Fail(ctx context.Context, callID, reason string) (*models.CallRecord, error) {
	return c.transition(ctx, callID, true, func(rec *models.CallRecord) bool {
		return rec.Fail(reason)
	}, zap.String("reason", reason))
}

func (c *Correlator) transition(ctx context.Context, callID string, create bool, fn func(*models.CallRecord) bool, field zap.Field) (*models.CallRecord, error) {
	if callID == "" {
		return nil, fmt.Errorf("call id is required")
	}
	var rec *models.CallRecord
	err := c.withLock(callID, func() error {
		current, err := c.load(ctx, callID)
		if err != nil {
			return err
		}
		now := c.now()
		if current == nil {
			if !create {
				return fmt.Errorf("call %q: %w", callID, models.ErrNotFound)
			}
			current = models.NewCallRecord(callID, now)
		}
		if !fn(current) {
			rec = current
			return nil
		}
		current.UpdatedAt = now
		if err := c.store.SaveRecord(ctx, current, nil); err != nil {
			return fmt.Errorf("failed to save call record: %w", err)
		}
		c.metrics.StatusChanged(string(current.Status))
		if c.logger != nil {
			c.logger.Info("call status changed", zap.String("call_id", callID),
				zap.String("status", string(current.Status)), field)
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (c *Correlator) withLock(callID string, fn func() error) error {
	unlock := c.locks.Lock(callID)
	defer unlock()
	return fn()
}

// load returns the stored record or nil when none exists.
func (c *Correlator) load(ctx context.Context, callID string) (*models.CallRecord, error) {
	rec, err := c.store.GetRecord(ctx, callID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load call record: %w", err)
	}
	return rec, nil
}

func receiptID(r *models.IndexReceipt) *string {
	if r == nil {
		return nil
	}
	return &r.ID
}
