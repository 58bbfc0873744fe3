package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/ws"
)

// Server exposes analyses over HTTP and streams their results to
// websocket clients.
type Server struct {
	engine *engine.Engine
	hub    *ws.Hub
	logger *slog.Logger
	addr   string
	server *http.Server
	cors   bool

	// mu serializes analyses; the engine state file has a single writer.
	mu sync.Mutex
}

// Option configures the API server.
type Option func(*Server)

// WithCORS allows cross-origin requests from any origin.
func WithCORS(enabled bool) Option {
	return func(s *Server) {
		s.cors = enabled
	}
}

// WithHub sets the WebSocket hub.
func WithHub(hub *ws.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// New creates a new API server.
func New(eng *engine.Engine, logger *slog.Logger, addr string, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub != nil {
		s.hub.SetLatest(s.latestJSON)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if s.cors {
		handler = corsMiddleware(handler)
	}
	return requestLogger(s.logger, handler)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting api server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/results/latest", s.handleLatest)
	mux.HandleFunc("GET /api/results/latest/files/{name}", s.handleLatestMigration)
	mux.HandleFunc("POST /api/checks", s.handleRunChecks)

	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
