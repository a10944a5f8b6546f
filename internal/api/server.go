// Package api exposes the HTTP surface: knowledge-base CRUD, session
// lifecycle, and the SSE and WebSocket chat streams.
package api

import (
	"errors"
	"net/http"

	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/session"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// ServerConfig wires the domain components into the HTTP server.
type ServerConfig struct {
	Logger      log.Logger
	Knowledge   *knowledge.Manager    // Required
	Sessions    *session.Manager      // Required
	Coordinator *generate.Coordinator // Required
	Store       vectorstore.Store     // Required: readiness probe
	CORSOrigins []string              // Allowed origins (CORS and WebSocket)
	TrustProxy  bool                  // Trust X-Real-IP/X-Forwarded-For
	RateBurst   int                   // Rate limiter burst per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Knowledge == nil {
		return nil, errors.New("knowledge manager is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("generation coordinator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("vector store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	kh := &knowledgeHandler{manager: cfg.Knowledge, logger: logger}
	sh := &sessionHandler{sessions: cfg.Sessions, logger: logger}
	ch := &chatHandler{
		coordinator: cfg.Coordinator,
		sessions:    cfg.Sessions,
		logger:      logger,
	}

	mux := http.NewServeMux()

	// Knowledge base
	mux.HandleFunc("POST /api/v1/knowledge", kh.ingest)
	mux.HandleFunc("GET /api/v1/knowledge", kh.list)
	mux.HandleFunc("DELETE /api/v1/knowledge/{id}", kh.remove)

	// Sessions
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.remove)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", sh.history)

	// Chat
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.Handle("GET /api/v1/chat/ws", ch.websocketHandler(cfg.CORSOrigins))

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> CORS -> RateLimit -> Routes
	// CORS sits before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Store, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
