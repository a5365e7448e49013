// Package server provides the HTTP surface of callmind: telephony provider webhooks and the
// transcript query API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/search"
	"github.com/hyperjump/callmind/internal/storage"
)

// Server is the HTTP server for webhooks and the query API.
type Server struct {
	correlator *correlator.Correlator
	engine     *search.Engine
	store      storage.Store
	metrics    *metrics.Metrics
	config     *config.Config
	logger     *zap.Logger
	handler    http.Handler
	server     *http.Server
	calls      CallControl
	pending    sync.WaitGroup // call control requests still running
}

// CallControl answers provider calls and starts their transcription. It renders the
// START_RECORDING_WITH_TRANSCRIPTION instruction for providers driven through a REST API.
type CallControl interface {
	AcceptCall(ctx context.Context, callID string) error
	StartTranscription(ctx context.Context, callID string) error
}

// Option configures a Server.
type Option func(*Server)

// WithCallControl sets the client used to act on Infobip call instructions. Without it
// Infobip call events are only recorded.
func WithCallControl(c CallControl) Option {
	return func(s *Server) { s.calls = c }
}

// NewServer creates a server with the given dependencies. m may be nil, in which case
// no /metrics route is mounted.
func NewServer(
	corr *correlator.Correlator,
	engine *search.Engine,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	opts ...Option,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		correlator: corr,
		engine:     engine,
		store:      store,
		metrics:    m,
		config:     cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	h, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = h
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() (http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(s.config.Server.WebhookRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook rate limit %q: %w", s.config.Server.WebhookRateLimit, err)
	}
	webhookLimit := limitermw.NewMiddleware(limiter.New(memory.NewStore(), rate))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if t := s.config.Server.RequestTimeout; t > 0 {
		r.Use(middleware.Timeout(t))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(webhookLimit.Handler)
		r.Post("/voice", s.handleVoice)
		r.Post("/recording-complete", s.handleRecordingComplete)
		r.Post("/transcription", s.handleTranscription)
		r.Post("/call-status", s.handleCallStatus)
		r.Post("/infobip/events", s.handleInfobipEvent)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/search", s.handleSearch)
		r.Post("/search", s.handleSearch)
		r.Get("/calls/recent", s.handleRecentCalls)
		r.Get("/calls/{id}", s.handleGetCall)
		r.Get("/transcripts/recent", s.handleRecentTranscripts)
		r.Get("/status", s.handleStatus)
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}
	return r, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and waits for running call control requests.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
