// Package infobip sends call control requests to the Infobip Calls API: answering an inbound
// call and starting its live transcription.
package infobip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hyperjump/callmind/internal/config"
)

// ErrNotConfigured is returned by NewClient when the base URL or API key is missing.
var ErrNotConfigured = errors.New("infobip api is not configured")

// Client calls the Infobip Calls API with an App API key.
type Client struct {
	http     *resty.Client
	language string
}

// TranscriptionSettings is the transcription block of a start-transcription request.
type TranscriptionSettings struct {
	Language           string   `json:"language"`
	SendInterimResults bool     `json:"sendInterimResults"`
	AdvancedFormatting bool     `json:"advancedFormatting"`
	CustomDictionary   []string `json:"customDictionary"`
}

type startTranscriptionRequest struct {
	Transcription TranscriptionSettings `json:"transcription"`
}

// APIError is a non-2xx answer from the Calls API.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("infobip %s failed (status %d): %s", e.Operation, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NewClient creates a client for cfg. A base URL without a scheme is an account host and is
// reached over https.
func NewClient(cfg config.InfobipConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	c := resty.New().
		SetBaseURL(base).
		SetHeader("Authorization", "App "+cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return &Client{http: c, language: cfg.Language}, nil
}

// AcceptCall answers the inbound call callID.
func (c *Client) AcceptCall(ctx context.Context, callID string) error {
	return c.post(ctx, "accept call", "/calls/1/calls/{callId}/accept", callID, struct{}{})
}

// StartTranscription starts transcribing callID. Only final results are requested, since
// interim results are never indexed.
func (c *Client) StartTranscription(ctx context.Context, callID string) error {
	body := startTranscriptionRequest{Transcription: TranscriptionSettings{
		Language:           c.language,
		AdvancedFormatting: true,
		CustomDictionary:   []string{},
	}}
	return c.post(ctx, "start transcription", "/calls/1/calls/{callId}/start-transcription", callID, body)
}

func (c *Client) post(ctx context.Context, op, path, callID string, body any) error {
	if strings.TrimSpace(callID) == "" {
		return fmt.Errorf("infobip %s: call id is required", op)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("callId", callID).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("infobip %s: %w", op, err)
	}
	if resp.IsError() {
		return &APIError{Operation: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
