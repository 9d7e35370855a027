// Package api serves a small HTTP control surface over one CAN controller
package api

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Bus is the controller surface the API drives
type Bus interface {
	Begin() error
	SetSpeed(can.Speed)
	Speed() can.Speed
	Running() bool
	State() models.BusStatus
	Phase() can.Phase
	Dropped() uint64

	Send(f *models.Frame) error
	Receive() (models.CANMessage, bool)

	SetFilter(index int, id, mask uint32, extended bool, tag int) (int, error)
	AddFilter(id, mask uint32, extended bool, tag int) (int, error)
	Filters() []models.Filter
	ClearFilters()
}

// History reads recorded data back. It is optional.
type History interface {
	Messages(ctx context.Context, params models.QueryParams) ([]models.CANMessage, error)
	Status(ctx context.Context, params models.QueryParams) ([]models.BusStatus, error)
}

var _ Bus = (*can.Controller)(nil)

// Server represents the HTTP API server
type Server struct {
	server  *http.Server
	bus     Bus
	history History

	// periodic keeps send schedules of rate-gated frames by identifier
	periodicMu sync.Mutex
	periodic   map[periodicKey]*models.Frame
}

type periodicKey struct {
	id       uint32
	extended bool
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port int
}

// NewServer creates a new API server instance. history may be nil.
func NewServer(config ServerConfig, bus Bus, history History) *Server {
	server := &Server{
		bus:      bus,
		history:  history,
		periodic: make(map[periodicKey]*models.Frame),
	}

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return loggingMiddleware(corsMiddleware(mux))
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("PUT /api/speed", s.handleSpeed)

	mux.HandleFunc("GET /api/filters", s.handleGetFilters)
	mux.HandleFunc("POST /api/filters", s.handleSetFilter)
	mux.HandleFunc("DELETE /api/filters", s.handleClearFilters)

	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/messages", s.handleMessages)

	if s.history != nil {
		mux.HandleFunc("GET /api/history/messages", s.handleMessageHistory)
		mux.HandleFunc("GET /api/history/status", s.handleStatusHistory)
	}
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":  "GET /health",
		"state":   "GET /api/state",
		"speed":   "PUT /api/speed (body: {bitrate}) - restarts the controller",
		"filters": "GET|POST|DELETE /api/filters (body: {index?, id, mask, extended?, tag?})",
		"send":    "POST /api/send (body: {id, data, extended?, interval_ms?})",
		"receive": "GET /api/messages?max=64",
	}
	if s.history != nil {
		endpoints["message_history"] = "GET /api/history/messages?start_time=2024-01-01T00:00:00Z&can_id=0x123&filter_index=0&interface=can0&limit=100&offset=0"
		endpoints["status_history"] = "GET /api/history/status?start_time=2024-01-01T00:00:00Z&interface=can0&limit=100"
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"name":      "CAN Controller API",
		"version":   "1.0.0",
		"endpoints": endpoints,
	})
}

// handleHealth reports healthy while the bus can carry traffic
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.bus.State()
	status, code := "healthy", http.StatusOK
	if !s.bus.Running() || !st.State.Operational() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now(),
		"bus_state": st.State,
		"phase":     s.bus.Phase().String(),
	})
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s %s completed in %v", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
