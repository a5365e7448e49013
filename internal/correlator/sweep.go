package correlator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/models"
)

// SweepResult lists the call ids acted on by one sweep.
type SweepResult struct {
	Failed   []string
	Requeued []string
}

// SweepPolicy controls one sweep.
type SweepPolicy struct {
	// StageTimeout fails records waiting this long for their next provider event. Zero
	// never fails them.
	StageTimeout time.Duration
	// RequeueAfter hands TRANSCRIBED records idle this long back to the indexing hook, so a
	// job dropped by a full queue is picked up again. Zero requeues every TRANSCRIBED record.
	RequeueAfter time.Duration
}

var pendingStatuses = []models.Status{models.StatusRinging, models.StatusRecording, models.StatusRecorded}

// Sweep fails records that have waited longer than p.StageTimeout for their next provider
// event with reason STAGE_TIMEOUT, and hands TRANSCRIBED records idle longer than
// p.RequeueAfter back to the indexing hook. The requeue runs whatever the stage timeout.
func (c *Correlator) Sweep(ctx context.Context, p SweepPolicy) (*SweepResult, error) {
	res := &SweepResult{}
	if p.StageTimeout > 0 {
		failed, err := c.failStale(ctx, c.now().Add(-p.StageTimeout))
		res.Failed = failed
		if err != nil {
			return res, err
		}
	}

	idleCutoff := c.now()
	if p.RequeueAfter > 0 {
		idleCutoff = idleCutoff.Add(-p.RequeueAfter)
	}
	waiting, err := c.store.ListRecords(ctx, models.RecordFilter{
		Statuses:      []models.Status{models.StatusTranscribed},
		UpdatedBefore: idleCutoff,
	})
	if err != nil {
		return res, fmt.Errorf("failed to list transcribed records: %w", err)
	}
	for _, r := range waiting {
		if c.onTranscribed != nil {
			c.onTranscribed(r.CallID)
		}
		res.Requeued = append(res.Requeued, r.CallID)
	}

	c.metrics.SweepAction("failed", len(res.Failed))
	c.metrics.SweepAction("requeued", len(res.Requeued))
	if c.logger != nil && (len(res.Failed) > 0 || len(res.Requeued) > 0) {
		c.logger.Info("sweep completed", zap.Int("failed", len(res.Failed)), zap.Int("requeued", len(res.Requeued)))
	}
	return res, nil
}

// failStale moves RINGING, RECORDING and RECORDED records last updated before cutoff to
// FAILED(STAGE_TIMEOUT).
func (c *Correlator) failStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	stale, err := c.store.ListRecords(ctx, models.RecordFilter{Statuses: pendingStatuses, UpdatedBefore: cutoff})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	var failed []string
	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		// Re-check under the lock: an event may have landed since the listing.
		rec, err := c.transition(ctx, r.CallID, false, func(rec *models.CallRecord) bool {
			if rec.Status.Terminal() || rec.Status.AtLeast(models.StatusTranscribed) || !rec.UpdatedAt.Before(cutoff) {
				return false
			}
			return rec.Fail(models.ReasonStageTimeout)
		}, zap.String("reason", models.ReasonStageTimeout))
		if err != nil {
			return failed, err
		}
		if rec.Status == models.StatusFailed && rec.FailureReason == models.ReasonStageTimeout {
			failed = append(failed, rec.CallID)
		}
	}
	return failed, nil
}

// Reindex hands every TRANSCRIBED record (and, with all set, every INDEXED record) to the
// indexing hook and returns the ids.
func (c *Correlator) Reindex(ctx context.Context, all bool) ([]string, error) {
	statuses := []models.Status{models.StatusTranscribed}
	if all {
		statuses = append(statuses, models.StatusIndexed)
	}
	recs, err := c.store.ListRecords(ctx, models.RecordFilter{Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if c.onTranscribed != nil {
			c.onTranscribed(r.CallID)
		}
		ids = append(ids, r.CallID)
	}
	return ids, nil
}
