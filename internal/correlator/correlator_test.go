package correlator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	c        *Correlator
	store    *storage.SQLiteStore
	clock    *fakeClock
	enqueued atomic.Int32
	mu       sync.Mutex
	ids      []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	h := &harness{store: store, clock: &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}}
	h.c = New(store, WithLogger(zap.NewNop()), WithClock(h.clock.Now))
	h.c.OnTranscribed(func(callID string) {
		h.enqueued.Add(1)
		h.mu.Lock()
		h.ids = append(h.ids, callID)
		h.mu.Unlock()
	})
	return h
}

func callStarted() map[string]string {
	return map[string]string{models.FieldFromNumber: "+15550001111", models.FieldToNumber: "+15550002222"}
}

func recordingReady() map[string]string {
	return map[string]string{models.FieldRecordingURL: "https://api.example.com/rec/RE1", models.FieldRecordingSID: "RE1"}
}

func transcriptionReady(text string) map[string]string {
	return map[string]string{models.FieldTranscriptText: text, models.FieldTranscriptionStatus: "completed"}
}

func TestDeliver_CallStarted(t *testing.T) {
	h := newHarness(t)
	d, err := h.c.Deliver(context.Background(), "CA1", models.EventCallStarted, callStarted())
	if err != nil {
		t.Fatal(err)
	}
	if d.Instruction != models.InstructionStartRecordingWithTranscription {
		t.Errorf("Instruction = %q", d.Instruction)
	}
	if d.Record.Status != models.StatusRecording {
		t.Errorf("Status = %s, want RECORDING", d.Record.Status)
	}
	if d.Record.FromNumber != "+15550001111" || d.Record.ToNumber != "+15550002222" {
		t.Errorf("numbers not set: %+v", d.Record)
	}
}

func TestDeliver_InOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	steps := []struct {
		kind    models.EventKind
		payload map[string]string
		want    models.Status
	}{
		{models.EventCallStarted, callStarted(), models.StatusRecording},
		{models.EventRecordingReady, recordingReady(), models.StatusRecorded},
		{models.EventTranscriptionReady, transcriptionReady("we need to move the project deadline"), models.StatusTranscribed},
	}
	for _, s := range steps {
		d, err := h.c.Deliver(ctx, "CA1", s.kind, s.payload)
		if err != nil {
			t.Fatalf("%s: %v", s.kind, err)
		}
		if d.Record.Status != s.want {
			t.Errorf("after %s status = %s, want %s", s.kind, d.Record.Status, s.want)
		}
	}
	if n := h.enqueued.Load(); n != 1 {
		t.Errorf("indexing hook called %d times, want 1", n)
	}

	rec, err := h.c.Get(ctx, "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.RecordingURL == "" || rec.TranscriptText == "" || rec.FromNumber == "" {
		t.Errorf("record missing fields: %+v", rec)
	}
}

func TestDeliver_AnyOrderConverges(t *testing.T) {
	type event struct {
		kind    models.EventKind
		payload map[string]string
	}
	started := event{models.EventCallStarted, callStarted()}
	recorded := event{models.EventRecordingReady, recordingReady()}
	transcribed := event{models.EventTranscriptionReady, transcriptionReady("hello there")}

	orders := []struct {
		name   string
		events []event
	}{
		{"started recorded transcribed", []event{started, recorded, transcribed}},
		{"started transcribed recorded", []event{started, transcribed, recorded}},
		{"recorded started transcribed", []event{recorded, started, transcribed}},
		{"recorded transcribed started", []event{recorded, transcribed, started}},
		{"transcribed started recorded", []event{transcribed, started, recorded}},
		{"transcribed recorded started", []event{transcribed, recorded, started}},
	}
	for _, order := range orders {
		for _, redeliver := range []bool{false, true} {
			name := order.name
			if redeliver {
				name += " redelivered"
			}
			t.Run(name, func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()
				deliver := func(e event) {
					t.Helper()
					if _, err := h.c.Deliver(ctx, "CA2", e.kind, e.payload); err != nil {
						t.Fatalf("%s: %v", e.kind, err)
					}
					h.clock.Advance(time.Second)
				}
				for _, e := range order.events {
					deliver(e)
					if redeliver {
						deliver(e)
					}
				}
				if redeliver {
					for _, e := range order.events {
						deliver(e)
					}
				}

				rec, err := h.c.Get(ctx, "CA2")
				if err != nil {
					t.Fatal(err)
				}
				if rec.Status != models.StatusTranscribed {
					t.Errorf("status = %s, want TRANSCRIBED", rec.Status)
				}
				if rec.TranscriptText != "hello there" {
					t.Errorf("transcript = %q", rec.TranscriptText)
				}
				if rec.RecordingURL != "https://api.example.com/rec/RE1" {
					t.Errorf("recording url = %q", rec.RecordingURL)
				}
				if rec.FromNumber != "+15550001111" || rec.ToNumber != "+15550002222" {
					t.Errorf("numbers = %q -> %q", rec.FromNumber, rec.ToNumber)
				}
				if rec.FailureReason != "" {
					t.Errorf("failure reason = %q", rec.FailureReason)
				}
				if n := h.enqueued.Load(); n != 1 {
					t.Errorf("indexing hook called %d times, want 1", n)
				}
			})
		}
	}
}

func TestDeliver_RedeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.c.Deliver(ctx, "CA3", models.EventTranscriptionReady, transcriptionReady("same words"))
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Minute)

	second, err := h.c.Deliver(ctx, "CA3", models.EventTranscriptionReady, transcriptionReady("same words"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate {
		t.Error("expected duplicate delivery")
	}
	if !second.Record.UpdatedAt.Equal(first.Record.UpdatedAt) {
		t.Errorf("UpdatedAt changed on redelivery: %v -> %v", first.Record.UpdatedAt, second.Record.UpdatedAt)
	}
	if n := h.enqueued.Load(); n != 1 {
		t.Errorf("indexing hook called %d times, want 1", n)
	}
}

func TestDeliver_CallStartedRedeliveryStillInstructs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "CA4", models.EventCallStarted, callStarted())
	d, err := h.c.Deliver(ctx, "CA4", models.EventCallStarted, callStarted())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Duplicate || d.Instruction != models.InstructionStartRecordingWithTranscription {
		t.Errorf("delivery = %+v", d)
	}
}

func TestDeliver_FirstTranscriptWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "CA5", models.EventTranscriptionReady, transcriptionReady("original"))
	d, err := h.c.Deliver(ctx, "CA5", models.EventTranscriptionReady, transcriptionReady("revised"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Duplicate {
		t.Error("different payload must not be treated as duplicate")
	}
	if d.Record.TranscriptText != "original" {
		t.Errorf("TranscriptText = %q", d.Record.TranscriptText)
	}
	if n := h.enqueued.Load(); n != 1 {
		t.Errorf("indexing hook called %d times, want 1", n)
	}
}

func TestDeliver_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.EventKind
		payload map[string]string
		reason  string
	}{
		{"recording without url", models.EventRecordingReady, map[string]string{}, "MALFORMED_EVENT: RECORDING_READY missing recording_url"},
		{"blank transcript", models.EventTranscriptionReady, map[string]string{models.FieldTranscriptText: "  "}, "MALFORMED_EVENT: TRANSCRIPTION_READY missing transcript_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			_, _ = h.c.Deliver(ctx, "CA6", models.EventCallStarted, callStarted())

			d, err := h.c.Deliver(ctx, "CA6", tt.kind, tt.payload)
			if !models.IsMalformedEvent(err) {
				t.Fatalf("err = %v, want ErrMalformedEvent", err)
			}
			if d == nil || d.Record.Status != models.StatusFailed || d.Record.FailureReason != tt.reason {
				t.Fatalf("delivery = %+v", d)
			}
			rec, _ := h.c.Get(ctx, "CA6")
			if rec.Status != models.StatusFailed {
				t.Errorf("stored status = %s", rec.Status)
			}
		})
	}
}

func TestDeliver_MalformedCreatesRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.Deliver(context.Background(), "CA7", models.EventRecordingReady, nil)
	if !errors.Is(err, models.ErrMalformedEvent) {
		t.Fatalf("err = %v", err)
	}
	rec, err := h.c.Get(context.Background(), "CA7")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("Status = %s", rec.Status)
	}
}

func TestDeliver_MissingCallID(t *testing.T) {
	h := newHarness(t)
	d, err := h.c.Deliver(context.Background(), " ", models.EventCallStarted, callStarted())
	if !models.IsMalformedEvent(err) || d != nil {
		t.Errorf("d=%v err=%v", d, err)
	}
	recs, _ := h.c.List(context.Background(), models.RecordFilter{})
	if len(recs) != 0 {
		t.Errorf("no record should be created, got %d", len(recs))
	}
}

func TestDeliver_FailedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "CA8", models.EventRecordingReady, nil)

	d, err := h.c.Deliver(ctx, "CA8", models.EventTranscriptionReady, transcriptionReady("too late"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Record.Status != models.StatusFailed || d.Record.TranscriptText != "" {
		t.Errorf("failed record was modified: %+v", d.Record)
	}
	if h.enqueued.Load() != 0 {
		t.Error("failed record must not be indexed")
	}
}

func TestDeliver_TranscriptionFailedStatus(t *testing.T) {
	h := newHarness(t)
	d, err := h.c.Deliver(context.Background(), "CA9", models.EventTranscriptionReady,
		map[string]string{models.FieldTranscriptionStatus: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Record.Status != models.StatusFailed || d.Record.FailureReason != models.ReasonTranscriptionFailed {
		t.Errorf("record = %+v", d.Record)
	}
}

func TestDeliver_ConcurrentSameCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	events := []struct {
		kind    models.EventKind
		payload map[string]string
	}{
		{models.EventCallStarted, callStarted()},
		{models.EventRecordingReady, recordingReady()},
		{models.EventTranscriptionReady, transcriptionReady("concurrent words")},
	}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		ev := events[i%len(events)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.Deliver(ctx, "CA10", ev.kind, ev.payload); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec, err := h.c.Get(ctx, "CA10")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusTranscribed || rec.RecordingURL == "" || rec.FromNumber == "" {
		t.Errorf("record = %+v", rec)
	}
	if n := h.enqueued.Load(); n != 1 {
		t.Errorf("indexing hook called %d times, want 1", n)
	}
	if n := h.c.locks.size(); n != 0 {
		t.Errorf("lock table not drained: %d", n)
	}
}

func TestDeliver_ConcurrentDifferentCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("CA-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.c.Deliver(ctx, id, models.EventTranscriptionReady, transcriptionReady("text for "+id))
		}()
	}
	wg.Wait()
	if n := h.enqueued.Load(); n != 20 {
		t.Errorf("indexing hook called %d times, want 20", n)
	}
}

func TestMarkIndexed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "CA11", models.EventTranscriptionReady, transcriptionReady("index me"))

	rec, err := h.c.MarkIndexed(ctx, "CA11", &models.IndexReceipt{ID: "r1", DocID: "CA11"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusIndexed {
		t.Errorf("Status = %s", rec.Status)
	}

	// Late events neither regress nor reindex.
	d, _ := h.c.Deliver(ctx, "CA11", models.EventRecordingReady, recordingReady())
	if d.Record.Status != models.StatusIndexed {
		t.Errorf("status regressed to %s", d.Record.Status)
	}
	if n := h.enqueued.Load(); n != 1 {
		t.Errorf("hook calls = %d", n)
	}

	// Metadata arriving after indexing triggers a reindex.
	_, _ = h.c.Deliver(ctx, "CA11", models.EventCallStarted, callStarted())
	if n := h.enqueued.Load(); n != 2 {
		t.Errorf("hook calls after metadata change = %d, want 2", n)
	}
}

func TestMarkIndexed_RequiresTranscribed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "CA12", models.EventCallStarted, callStarted())
	rec, err := h.c.MarkIndexed(ctx, "CA12", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusRecording {
		t.Errorf("Status = %s, want RECORDING", rec.Status)
	}
}

func TestMarkFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.c.MarkFailed(ctx, "missing", models.ReasonIndexingFailed); !models.IsNotFound(err) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	_, _ = h.c.Deliver(ctx, "CA13", models.EventTranscriptionReady, transcriptionReady("x"))
	rec, err := h.c.MarkFailed(ctx, "CA13", models.ReasonIndexingFailed)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusFailed || rec.FailureReason != models.ReasonIndexingFailed {
		t.Errorf("record = %+v", rec)
	}
}

func TestFail_CreatesRecord(t *testing.T) {
	h := newHarness(t)
	rec, err := h.c.Fail(context.Background(), "CA14", "CALL_BUSY")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusFailed || rec.FailureReason != "CALL_BUSY" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.c.Deliver(ctx, "stuck", models.EventCallStarted, callStarted())
	_, _ = h.c.Deliver(ctx, "waiting", models.EventTranscriptionReady, transcriptionReady("pending index"))
	h.clock.Advance(10 * time.Minute)
	_, _ = h.c.Deliver(ctx, "fresh", models.EventCallStarted, callStarted())
	h.enqueued.Store(0)

	res, err := h.c.Sweep(ctx, SweepPolicy{StageTimeout: 5 * time.Minute, RequeueAfter: 5 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "stuck" {
		t.Errorf("Failed = %v", res.Failed)
	}
	if len(res.Requeued) != 1 || res.Requeued[0] != "waiting" {
		t.Errorf("Requeued = %v", res.Requeued)
	}
	if h.enqueued.Load() != 1 {
		t.Errorf("hook calls = %d", h.enqueued.Load())
	}

	stuck, _ := h.c.Get(ctx, "stuck")
	if stuck.Status != models.StatusFailed || stuck.FailureReason != models.ReasonStageTimeout {
		t.Errorf("stuck = %+v", stuck)
	}
	fresh, _ := h.c.Get(ctx, "fresh")
	if fresh.Status != models.StatusRecording {
		t.Errorf("fresh = %+v", fresh)
	}
}

func TestSweep_Disabled(t *testing.T) {
	h := newHarness(t)
	_, _ = h.c.Deliver(context.Background(), "CA", models.EventCallStarted, callStarted())
	h.clock.Advance(time.Hour)
	res, err := h.c.Sweep(context.Background(), SweepPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Errorf("sweep with zero timeout failed %v", res.Failed)
	}
}

func TestSweep_RequeuesWithoutStageTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.c.Deliver(ctx, "dropped", models.EventTranscriptionReady, transcriptionReady("lost by a full queue"))
	h.clock.Advance(3 * time.Minute)
	_, _ = h.c.Deliver(ctx, "recent", models.EventTranscriptionReady, transcriptionReady("still in the queue"))
	_, _ = h.c.Deliver(ctx, "ringing", models.EventCallStarted, callStarted())
	h.clock.Advance(time.Minute)
	h.enqueued.Store(0)

	res, err := h.c.Sweep(ctx, SweepPolicy{RequeueAfter: 2 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Errorf("Failed = %v, want none with stage timeout disabled", res.Failed)
	}
	if len(res.Requeued) != 1 || res.Requeued[0] != "dropped" {
		t.Errorf("Requeued = %v, want [dropped]", res.Requeued)
	}
	if h.enqueued.Load() != 1 {
		t.Errorf("hook calls = %d, want 1", h.enqueued.Load())
	}

	res, _ = h.c.Sweep(ctx, SweepPolicy{})
	if len(res.Requeued) != 2 {
		t.Errorf("zero requeue_after should requeue every TRANSCRIBED record, got %v", res.Requeued)
	}
}

func TestReindex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.c.Deliver(ctx, "a", models.EventTranscriptionReady, transcriptionReady("one"))
	_, _ = h.c.Deliver(ctx, "b", models.EventTranscriptionReady, transcriptionReady("two"))
	_, _ = h.c.MarkIndexed(ctx, "b", nil)
	h.enqueued.Store(0)

	ids, err := h.c.Reindex(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("ids = %v", ids)
	}
	ids, _ = h.c.Reindex(ctx, true)
	if len(ids) != 2 {
		t.Errorf("ids with all = %v", ids)
	}
}
