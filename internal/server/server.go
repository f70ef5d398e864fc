package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/handlers"
)

// Server is the HTTP surface: websocket subscriptions plus the operational
// endpoints.
type Server struct {
	httpServer *http.Server
	logger     arbor.ILogger
}

// New builds the server with its routes.
func New(host string, port int, ws *handlers.WebSocketHandler, ops *handlers.OpsHandler, logger arbor.ILogger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	mux.HandleFunc("/healthz", ops.HealthHandler)
	mux.HandleFunc("/api/status", ops.StatusHandler)
	mux.HandleFunc("/api/jobs/{tenant}/{job}", ops.JobHandler)
	mux.HandleFunc("/api/collections/init", ops.InitCollectionsHandler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
