package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashwin/sia/internal/config"
	"github.com/ashwin/sia/internal/observability"
	"github.com/ashwin/sia/pkg/agent"
	"github.com/ashwin/sia/pkg/knowledge"
	"github.com/ashwin/sia/pkg/session"
)

// TurnRunner executes one conversational turn against the model backend.
type TurnRunner interface {
	Run(ctx context.Context, transcript []agent.Message) ([]agent.Message, string, error)
}

// Options configures the HTTP server
type Options struct {
	Host    string
	Port    int
	Timeout time.Duration // per-request handler budget
}

// Server is the chat HTTP server
type Server struct {
	options  Options
	cfg      *config.Config
	runner   TurnRunner
	sessions *session.Store
	kb       *knowledge.Store
	logger   zerolog.Logger

	server         *http.Server
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new chat server
func NewServer(options Options, cfg *config.Config, runner TurnRunner, sessions *session.Store, kb *knowledge.Store, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Timeout == 0 {
		options.Timeout = 60 * time.Second
	}

	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	observability.EnsureRegistered()

	return &Server{
		options:   options,
		cfg:       cfg,
		runner:    runner,
		sessions:  sessions,
		kb:        kb,
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.instrument("/api/chat", s.handleChat))
	mux.HandleFunc("/api/sessions", s.instrument("/api/sessions", s.handleCreateSession))
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// Start starts the server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.options.Timeout,
		WriteTimeout: s.options.Timeout,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting chat server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start chat server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down chat server")

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown chat server: %w", err)
	}

	s.logger.Info().Msg("Chat server stopped")
	return nil
}

// instrument wraps a handler with shutdown gating, in-flight tracking and
// request metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next(sw, r)

		observability.RecordHTTPRequest(route, strconv.Itoa(sw.status), time.Since(start))
	}
}

// statusWriter captures the response status for metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
