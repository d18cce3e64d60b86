package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"plannedoutage/internal/shadowstate"
	pkgstate "plannedoutage/pkg/state"

	"go.uber.org/zap"
)

// Server provides HTTP API endpoints for the planned outage daemon
type Server struct {
	stateManager  pkgstate.Manager
	shadowTracker *shadowstate.Tracker
	metrics       http.Handler
	logger        *zap.Logger
	mux           *http.ServeMux
	server        *http.Server
}

// NewServer creates a new API server. shadowTracker and metrics may be nil,
// in which case their endpoints are not registered.
func NewServer(stateManager pkgstate.Manager, shadowTracker *shadowstate.Tracker, metrics http.Handler, logger *zap.Logger, port int) *Server {
	s := &Server{
		stateManager:  stateManager,
		shadowTracker: shadowTracker,
		metrics:       metrics,
		logger:        logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/sensors", s.handleGetSensors)
	mux.HandleFunc("/health", s.handleHealth)
	if shadowTracker != nil {
		mux.HandleFunc("/api/shadow", s.handleGetShadow)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	s.mux = mux

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SensorsResponse represents the JSON response for the sensors endpoint
type SensorsResponse struct {
	ReadOnly bool              `json:"read_only"`
	Sensors  []pkgstate.Entity `json:"sensors"`
}

// handleGetSensors returns every entity published by this process
func (s *Server) handleGetSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := SensorsResponse{
		ReadOnly: s.stateManager.IsReadOnly(),
		Sensors:  s.stateManager.GetAllValues(),
	}

	s.writeJSON(w, response)
	s.logger.Debug("Sensors request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleGetShadow returns the shadow state of every plugin
func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.shadowTracker.GetAllPluginStates())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

func (s *Server) endpoints() []Endpoint {
	endpoints := []Endpoint{
		{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
		{Path: "/api/sensors", Method: "GET", Description: "Current state and attributes of the outage sensors"},
	}
	if s.shadowTracker != nil {
		endpoints = append(endpoints, Endpoint{Path: "/api/shadow", Method: "GET", Description: "Poll history and inputs behind the current sensor values"})
	}
	if s.metrics != nil {
		endpoints = append(endpoints, Endpoint{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"})
	}
	return append(endpoints, Endpoint{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"})
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := s.endpoints()

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		// HTML format for browsers
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		// Plain text format for terminal
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}

	// Return 404 status code (for automation compatibility) but with helpful body
	w.WriteHeader(http.StatusNotFound)

	if preferHTML {
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Planned Outage API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .description { color: #9cdcfe; margin-top: 5px; }
        a { color: #ce9178; text-decoration: none; }
    </style>
</head>
<body>
    <h1>Planned Outage API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <a href="%s">%s</a></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		fmt.Fprintf(w, "Planned Outage API\n")
		fmt.Fprintf(w, "==================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-10s %-20s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "    curl http://localhost:8081/api/sensors | jq\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
