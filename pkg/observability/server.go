package observability

import (
	"context"
	"net/http"
	"time"
)

// Server serves /health, /health/ready and /metrics for one agency.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server listening on addr (":9090") that reports on src.
func NewServer(addr string, src HealthSource) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(src))
	mux.HandleFunc("/health/ready", ReadinessHandler(src))
	mux.Handle("/metrics", MetricsHandler())

	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
