package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/models"
)

const errorGreeting = "Sorry, there was an error processing your call. Please try again later."

// Twilio call statuses that end a call before it can be transcribed.
var terminalCallStatuses = map[string]bool{
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondTwiML(w, sayTwiML(errorGreeting))
		return
	}
	callID := r.PostForm.Get("CallSid")
	d, err := s.correlator.Deliver(r.Context(), callID, models.EventCallStarted, map[string]string{
		models.FieldFromNumber: r.PostForm.Get("From"),
		models.FieldToNumber:   r.PostForm.Get("To"),
	})
	if err != nil {
		s.logger.Error("incoming call rejected", zap.String("call_id", callID), zap.Error(err))
		s.respondTwiML(w, sayTwiML(errorGreeting))
		return
	}
	s.logger.Info("incoming call",
		zap.String("call_id", callID),
		zap.String("from", d.Record.FromNumber),
		zap.String("to", d.Record.ToNumber),
		zap.Bool("duplicate", d.Duplicate),
	)
	if d.Instruction == models.InstructionStartRecordingWithTranscription {
		s.respondTwiML(w, recordingTwiML(s.config.Telephony))
		return
	}
	s.respondTwiML(w, twimlResponse{})
}

func (s *Server) handleRecordingComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	s.deliver(w, r.Context(), r.PostForm.Get("CallSid"), models.EventRecordingReady, map[string]string{
		models.FieldRecordingURL:      r.PostForm.Get("RecordingUrl"),
		models.FieldRecordingSID:      r.PostForm.Get("RecordingSid"),
		models.FieldRecordingDuration: r.PostForm.Get("RecordingDuration"),
	})
}

func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	s.deliver(w, r.Context(), r.PostForm.Get("CallSid"), models.EventTranscriptionReady, map[string]string{
		models.FieldTranscriptText:      r.PostForm.Get("TranscriptionText"),
		models.FieldTranscriptionStatus: r.PostForm.Get("TranscriptionStatus"),
		models.FieldRecordingURL:        r.PostForm.Get("RecordingUrl"),
		models.FieldRecordingSID:        r.PostForm.Get("RecordingSid"),
		models.FieldFromNumber:          r.PostForm.Get("From"),
		models.FieldToNumber:            r.PostForm.Get("To"),
	})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.PostForm.Get("CallStatus")))
	s.logger.Info("call status update", zap.String("call_id", callID), zap.String("status", status))
	if callID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "CallSid is required")
		return
	}
	if !terminalCallStatuses[status] {
		s.metrics.EventReceived("CALL_STATUS", metrics.OutcomeIgnored)
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	s.fail(w, r.Context(), callID, "CALL_"+strings.ToUpper(strings.ReplaceAll(status, "-", "_")))
}

// infobipEvent is the subset of an Infobip Calls API webhook body callmind reads.
type infobipEvent struct {
	Type          string `json:"type"`
	CallID        string `json:"callId"`
	From          string `json:"from"`
	To            string `json:"to"`
	ErrorCode     string `json:"errorCode"`
	Transcription *struct {
		Text    string `json:"text"`
		IsFinal bool   `json:"isFinal"`
	} `json:"transcription"`
}

func (s *Server) handleInfobipEvent(w http.ResponseWriter, r *http.Request) {
	var ev infobipEvent
	if err := decodeJSON(r, &ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	switch ev.Type {
	case "CALL_RECEIVED", "CALL_ESTABLISHED":
		d := s.deliver(w, ctx, ev.CallID, models.EventCallStarted, map[string]string{
			models.FieldFromNumber: ev.From,
			models.FieldToNumber:   ev.To,
		})
		if d != nil && d.Instruction == models.InstructionStartRecordingWithTranscription &&
			d.Record.Status != models.StatusFailed {
			s.controlInfobipCall(ev.Type, d.Record.CallID)
		}
	case "TRANSCRIPTION":
		if ev.Transcription == nil || !ev.Transcription.IsFinal {
			s.ignore(w, ev.Type)
			return
		}
		s.deliver(w, ctx, ev.CallID, models.EventTranscriptionReady, map[string]string{
			models.FieldTranscriptText: ev.Transcription.Text,
			models.FieldFromNumber:     ev.From,
			models.FieldToNumber:       ev.To,
		})
	case "CALL_FAILED":
		if strings.TrimSpace(ev.CallID) == "" {
			s.respondError(w, http.StatusUnprocessableEntity, "callId is required")
			return
		}
		s.fail(w, ctx, ev.CallID, "CALL_FAILED:"+ev.ErrorCode)
	default:
		s.logger.Debug("unhandled infobip event", zap.String("type", ev.Type), zap.String("call_id", ev.CallID))
		s.ignore(w, ev.Type)
	}
}

type deliveryResponse struct {
	CallID      string             `json:"call_id"`
	Status      models.Status      `json:"status"`
	Duplicate   bool               `json:"duplicate"`
	Instruction models.Instruction `json:"instruction,omitempty"`
}

// controlInfobipCall renders the recording instruction as Calls API requests: a received call
// is accepted, an established one gets its transcription started. The requests run after the
// webhook is answered, as Infobip expects a prompt acknowledgement.
func (s *Server) controlInfobipCall(eventType, callID string) {
	if s.calls == nil {
		s.logger.Debug("infobip call control not configured", zap.String("call_id", callID))
		return
	}
	op, action := "accept_call", s.calls.AcceptCall
	if eventType == "CALL_ESTABLISHED" {
		op, action = "start_transcription", s.calls.StartTranscription
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Telephony.Infobip.Timeout)
		defer cancel()
		if err := action(ctx, callID); err != nil {
			s.metrics.CallControl(op, metrics.OutcomeError)
			s.logger.Error("infobip call control failed", zap.String("call_id", callID), zap.String("op", op), zap.Error(err))
			return
		}
		s.metrics.CallControl(op, metrics.OutcomeOK)
		s.logger.Info("infobip call control sent", zap.String("call_id", callID), zap.String("op", op))
	}()
}

func (s *Server) deliver(w http.ResponseWriter, ctx context.Context, callID string, kind models.EventKind, payload map[string]string) *correlator.Delivery {
	d, err := s.correlator.Deliver(ctx, callID, kind, payload)
	if err != nil {
		s.logger.Warn("event rejected", zap.String("call_id", callID), zap.String("kind", string(kind)), zap.Error(err))
		s.respondErr(w, err)
		return nil
	}
	s.respondJSON(w, http.StatusOK, deliveryResponse{
		CallID:      d.Record.CallID,
		Status:      d.Record.Status,
		Duplicate:   d.Duplicate,
		Instruction: d.Instruction,
	})
	return d
}

func (s *Server) fail(w http.ResponseWriter, ctx context.Context, callID, reason string) {
	rec, err := s.correlator.Fail(ctx, callID, reason)
	if err != nil {
		s.logger.Error("failed to fail call", zap.String("call_id", callID), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, deliveryResponse{CallID: rec.CallID, Status: rec.Status})
}

func (s *Server) ignore(w http.ResponseWriter, kind string) {
	s.metrics.EventReceived(kind, metrics.OutcomeIgnored)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

// respondErr maps domain errors to status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsMalformedEvent(err):
		status = http.StatusUnprocessableEntity
	case models.IsInvalidQuery(err):
		status = http.StatusBadRequest
	case models.IsSearchUnavailable(err):
		status = http.StatusServiceUnavailable
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.respondError(w, status, err.Error())
}
