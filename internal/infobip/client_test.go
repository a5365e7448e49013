package infobip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/callmind/internal/config"
)

func testConfig(url string) config.InfobipConfig {
	return config.InfobipConfig{BaseURL: url, APIKey: "secret", Language: "en-GB", Timeout: time.Second}
}

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := NewClient(config.InfobipConfig{BaseURL: "xyz.api.infobip.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewClient(config.InfobipConfig{APIKey: "secret"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClient_HostGetsHTTPS(t *testing.T) {
	c, err := NewClient(config.InfobipConfig{BaseURL: "xyz.api.infobip.com/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://xyz.api.infobip.com", c.http.BaseURL)
}

func TestAcceptCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls/1/calls/call-42/accept", r.URL.Path)
		assert.Equal(t, "App secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body)
		_, _ = w.Write([]byte(`{"id":"call-42","state":"ESTABLISHED"}`))
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, c.AcceptCall(context.Background(), "call-42"))
	assert.EqualValues(t, 1, hits.Load())
}

func TestStartTranscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/1/calls/call-42/start-transcription", r.URL.Path)
		var req startTranscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en-GB", req.Transcription.Language)
		assert.False(t, req.Transcription.SendInterimResults)
		assert.True(t, req.Transcription.AdvancedFormatting)
		assert.NotNil(t, req.Transcription.CustomDictionary)
		_, _ = w.Write([]byte(`{"id":"call-42"}`))
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, c.StartTranscription(context.Background(), "call-42"))
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, c.AcceptCall(context.Background(), "call-1"))
	assert.EqualValues(t, 3, hits.Load())
}

func TestPost_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"requestError":{"serviceException":{"messageId":"NOT_FOUND"}}}`))
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	err = c.StartTranscription(context.Background(), "gone")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, apiErr.Temporary())
	assert.Contains(t, apiErr.Body, "NOT_FOUND")
	assert.EqualValues(t, 1, hits.Load())
}

func TestPost_RequiresCallID(t *testing.T) {
	c, err := NewClient(testConfig("http://127.0.0.1:1"))
	require.NoError(t, err)
	assert.Error(t, c.AcceptCall(context.Background(), " "))
}
