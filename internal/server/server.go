// Package server exposes the graph service over HTTP: the websocket protocol
// endpoint, a health check and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dyluth/depi/internal/metrics"
)

// Paths served by Server.
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
	DepiPath    = "/depi"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the graph service.
type Server struct {
	addr     string
	store    Pinger
	depi     http.Handler
	depiPath string
	server   *http.Server
}

// New creates a server listening on addr. depi serves the websocket protocol.
func New(addr string, store Pinger, depi http.Handler) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		depi:     depi,
		depiPath: DepiPath,
	}
}

// WithDepiPath serves the websocket protocol at path instead of DepiPath.
func (s *Server) WithDepiPath(path string) *Server {
	if path != "" {
		s.depiPath = path
	}
	return s
}

// Handler returns the request multiplexer of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, s.healthCheckHandler)
	mux.Handle(MetricsPath, metrics.Handler())
	if s.depi != nil {
		mux.Handle(s.depiPath, s.depi)
	}
	return mux
}

// Start starts serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Redis: "connected"}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		response = HealthResponse{Status: "unhealthy", Redis: "disconnected", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}
