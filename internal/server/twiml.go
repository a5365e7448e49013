package server

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/hyperjump/callmind/internal/config"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr,omitempty"`
	Transcribe         bool     `xml:"transcribe,attr"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
	FinishOnKey        string   `xml:"finishOnKey,attr,omitempty"`
	MaxLength          int      `xml:"maxLength,attr,omitempty"`
	PlayBeep           bool     `xml:"playBeep,attr"`
}

// recordingTwiML greets the caller, records with transcription and says goodbye.
// Callback URLs are only set when a public base URL is configured; Twilio otherwise posts
// back to the voice URL.
func recordingTwiML(cfg config.TelephonyConfig) twimlResponse {
	rec := twimlRecord{
		Transcribe:  true,
		FinishOnKey: cfg.FinishOnKey,
		MaxLength:   cfg.MaxRecordingSeconds,
		PlayBeep:    true,
	}
	if base := strings.TrimRight(cfg.PublicBaseURL, "/"); base != "" {
		rec.Action = base + "/webhooks/recording-complete"
		rec.TranscribeCallback = base + "/webhooks/transcription"
	}
	return twimlResponse{Verbs: []any{
		twimlSay{Text: cfg.Greeting},
		rec,
		twimlSay{Text: cfg.Goodbye},
	}}
}

func sayTwiML(text string) twimlResponse {
	return twimlResponse{Verbs: []any{twimlSay{Text: text}}}
}

func (s *Server) respondTwiML(w http.ResponseWriter, resp twimlResponse) {
	body, err := xml.Marshal(resp)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
