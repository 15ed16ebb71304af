// Package api serves the read-only bridge status API
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wattchbridge/internal/auth"
	"wattchbridge/internal/config"
	"wattchbridge/internal/events"
	"wattchbridge/internal/gate"
	"wattchbridge/internal/stats"
	"wattchbridge/internal/storage"
)

// Bridge is the state the API exposes
type Bridge interface {
	Stats() stats.Snapshot
	Devices() []gate.DeviceState
	Events() *events.Store
	Journal() storage.Journal
	SyncInterval() time.Duration
}

// Server represents the API server
type Server struct {
	router  *chi.Mux
	bridge  Bridge
	config  *config.Config
	authMw  *auth.Middleware // nil when auth is disabled
	started time.Time
}

// NewServer creates a new API server. jwtManager may be nil, which
// leaves every route open.
func NewServer(b Bridge, cfg *config.Config, jwtManager *auth.JWTManager) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		bridge:  b,
		config:  cfg,
		started: time.Now(),
	}
	if jwtManager != nil {
		s.authMw = auth.NewMiddleware(jwtManager)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	statusHandler := NewStatusHandler(s.bridge, s.config, s.started)
	eventsHandler := NewEventsHandler(s.bridge.Events())
	journalHandler := NewJournalHandler(s.bridge.Journal())
	streamHandler := NewStreamHandler(s.bridge.Events())

	// Public routes
	r.Get("/api/health", statusHandler.Health)

	// Protected API routes
	r.Group(func(r chi.Router) {
		if s.authMw != nil {
			r.Use(s.authMw.RequireAuth)
		}

		// WebSocket upgrades need the raw writer, so no compression here
		r.Get("/api/events/ws", streamHandler.Connect)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			r.Get("/api/status", statusHandler.Status)
			r.Get("/api/devices", statusHandler.Devices)
			r.Get("/api/events", eventsHandler.List)
			r.Get("/api/journal", journalHandler.List)
		})
	})
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
