// Package api exposes the assistant over HTTP and pushes session events over
// a WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"deskmate/internal/assistant"
	"deskmate/internal/logging"
)

// maxBodyBytes bounds request bodies; attachments arrive inline as data URIs.
const maxBodyBytes = 16 << 20

// Options configures a Server.
type Options struct {
	// BaseContext outlives individual requests and bounds background turns.
	BaseContext context.Context
	// EventBuffer sizes each WebSocket subscriber's queue.
	EventBuffer int
	// PingInterval keeps idle WebSocket connections alive. Zero disables pings.
	PingInterval time.Duration
	JSONLogs     bool
}

// Server holds the handler dependencies.
type Server struct {
	a    *assistant.Assistant
	opts Options
	log  *logging.StructuredLogger
}

// New creates a Server for a.
func New(a *assistant.Assistant, opts Options) *Server {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Server{
		a:    a,
		opts: opts,
		log:  logging.NewStructuredLogger(nil, "api", opts.JSONLogs),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	s.RegisterRoutes(r)
	r.Get("/ws", s.handleEvents)
	return r
}

// RegisterRoutes registers the /api routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Post("/switch", s.switchSession)
				r.Post("/clear", s.clearSession)
				r.Post("/messages", s.sendMessage)
				r.Post("/cancel", s.cancelTurn)
			})
		})
		r.Get("/providers", s.listProviders)
		r.Put("/providers/active", s.setProvider)
		r.Get("/mode", s.getMode)
		r.Put("/mode", s.setMode)
		r.Get("/tasks", s.listTasks)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
