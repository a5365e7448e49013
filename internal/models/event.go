package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind names an inbound provider callback.
type EventKind string

const (
	EventCallStarted        EventKind = "CALL_STARTED"
	EventRecordingReady     EventKind = "RECORDING_READY"
	EventTranscriptionReady EventKind = "TRANSCRIPTION_READY"
)

// Canonical payload keys. Provider adapters translate their own field names to these.
const (
	FieldFromNumber          = "from_number"
	FieldToNumber            = "to_number"
	FieldRecordingURL        = "recording_url"
	FieldRecordingSID        = "recording_sid"
	FieldRecordingDuration   = "recording_duration"
	FieldTranscriptText      = "transcript_text"
	FieldTranscriptionStatus = "transcription_status"
)

// ParseEventKind converts s to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case EventCallStarted, EventRecordingReady, EventTranscriptionReady:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind: %q", s)
}

// Event is a validated, strongly typed inbound event. The concrete types are
// CallStarted, RecordingReady and TranscriptionReady.
type Event interface {
	Header() EventHeader
	Kind() EventKind
}

// EventHeader carries the identity of an event: the call it belongs to and the hash of its raw payload.
type EventHeader struct {
	CallID      string `json:"call_id"`
	PayloadHash string `json:"payload_hash"`
}

// Header returns h.
func (h EventHeader) Header() EventHeader { return h }

// CallStarted is delivered when the provider answers a new call.
type CallStarted struct {
	EventHeader
	FromNumber string
	ToNumber   string
}

func (CallStarted) Kind() EventKind { return EventCallStarted }

// RecordingReady is delivered once the call audio has been recorded.
type RecordingReady struct {
	EventHeader
	RecordingURL    string
	RecordingSID    string
	DurationSeconds int
}

func (RecordingReady) Kind() EventKind { return EventRecordingReady }

// TranscriptionReady is delivered once the provider has transcribed the recording.
// A non-empty TranscriptionStatus other than "completed" means the provider gave up.
type TranscriptionReady struct {
	EventHeader
	TranscriptText      string
	TranscriptionStatus string
	FromNumber          string
	ToNumber            string
	RecordingURL        string
}

func (TranscriptionReady) Kind() EventKind { return EventTranscriptionReady }

// Completed reports whether the provider marked the transcription as successful.
func (e TranscriptionReady) Completed() bool {
	return e.TranscriptionStatus == "" || strings.EqualFold(e.TranscriptionStatus, "completed")
}

// ParseEvent validates a loosely typed payload and converts it to the Event variant for kind.
// A missing required field yields an *EventError wrapping ErrMalformedEvent; the error still
// carries the header so the caller can fail the record.
func ParseEvent(callID string, kind EventKind, payload map[string]string, payloadHash string) (Event, error) {
	callID = strings.TrimSpace(callID)
	h := EventHeader{CallID: callID, PayloadHash: payloadHash}
	if callID == "" {
		return nil, &EventError{Header: h, Kind: kind, Field: "call_id"}
	}
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch kind {
	case EventCallStarted:
		return CallStarted{EventHeader: h, FromNumber: get(FieldFromNumber), ToNumber: get(FieldToNumber)}, nil
	case EventRecordingReady:
		url := get(FieldRecordingURL)
		if url == "" {
			return nil, &EventError{Header: h, Kind: kind, Field: FieldRecordingURL}
		}
		ev := RecordingReady{EventHeader: h, RecordingURL: url, RecordingSID: get(FieldRecordingSID)}
		if d := get(FieldRecordingDuration); d != "" {
			// Twilio sends whole seconds; a garbled duration is not worth failing the call over.
			if n, err := strconv.Atoi(d); err == nil {
				ev.DurationSeconds = n
			}
		}
		return ev, nil
	case EventTranscriptionReady:
		ev := TranscriptionReady{
			EventHeader:         h,
			TranscriptText:      get(FieldTranscriptText),
			TranscriptionStatus: get(FieldTranscriptionStatus),
			FromNumber:          get(FieldFromNumber),
			ToNumber:            get(FieldToNumber),
			RecordingURL:        get(FieldRecordingURL),
		}
		if ev.Completed() && ev.TranscriptText == "" {
			return nil, &EventError{Header: h, Kind: kind, Field: FieldTranscriptText}
		}
		return ev, nil
	}
	return nil, &EventError{Header: h, Kind: kind, Field: "kind"}
}
