package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harun/olmchat/internal/observability"
	"github.com/harun/olmchat/pkg/session"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 10 << 20

// Options configures the session server.
type Options struct {
	Host string
	Port int

	// Debug adds internal error details to 500 responses.
	Debug bool

	// AuditSchedule enables the periodic storage audit when non-empty.
	AuditSchedule string

	// Watch broadcasts sessions.changed when files change on disk.
	Watch bool
}

// Server exposes a session store over REST.
type Server struct {
	options   Options
	store     *session.Store
	events    *EventHub
	logger    zerolog.Logger
	startTime time.Time

	mu      sync.Mutex
	server  *http.Server
	auditor *session.Auditor
	watcher *session.Watcher
}

// New creates a server for store.
func New(store *session.Store, options Options, logger zerolog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if options.Port == 0 {
		options.Port = 3001
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}

	observability.EnsureRegistered()

	logger = logger.With().Str("component", "server").Logger()
	return &Server{
		options:   options,
		store:     store,
		events:    NewEventHub(logger),
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Events returns the subscriber hub.
func (s *Server) Events() *EventHub {
	return s.events
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, fmt.Sprint(s.options.Port))
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /newsessions", "newsessions", http.HandlerFunc(s.handleCreate))
	s.route(mux, "GET /getsessions", "getsessions", http.HandlerFunc(s.handleList))
	s.route(mux, "POST /catsessions", "catsessions", http.HandlerFunc(s.handleRead))
	s.route(mux, "PUT /savesessions", "savesessions", http.HandlerFunc(s.handleSave))
	s.route(mux, "GET /health", "health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /events", "events", s.events)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return withCORS(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, chain(h, withObservability(s.logger, name)))
}

// Start launches the optional audit and watcher, then serves until Stop.
func (s *Server) Start() error {
	if err := s.startBackground(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Str("sessions_dir", s.store.Dir()).
		Bool("debug", s.options.Debug).
		Msg("Starting session server")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start session server: %w", err)
	}
	return nil
}

func (s *Server) startBackground() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.options.AuditSchedule != "" && s.auditor == nil {
		auditor, err := session.NewAuditor(s.store, s.options.AuditSchedule, s.logger)
		if err != nil {
			return err
		}
		if err := auditor.Start(); err != nil {
			return err
		}
		s.auditor = auditor
	}

	if s.options.Watch && s.watcher == nil {
		watcher, err := session.NewWatcher(s.store.Dir(), s.logger, func() {
			s.events.Broadcast(EventSessionsChanged, nil)
		})
		if err != nil {
			return fmt.Errorf("failed to watch sessions directory: %w", err)
		}
		s.watcher = watcher
	}

	return nil
}

// Stop shuts the HTTP server down and stops background work.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, auditor, watcher := s.server, s.auditor, s.watcher
	s.server, s.auditor, s.watcher = nil, nil, nil
	s.mu.Unlock()

	s.logger.Info().Msg("Shutting down session server")

	if auditor != nil {
		auditor.Stop()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop watcher")
		}
	}
	s.events.Close()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown session server: %w", err)
		}
	}

	s.logger.Info().Msg("Session server stopped")
	return nil
}
