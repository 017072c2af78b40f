// Package httpapi wires the engine's external HTTP surface: the
// liveness probe, the Prometheus scrape endpoint, and the gateway's
// websocket upgrade route, using a plain http.ServeMux/http.Server
// construction.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"propengine/internal/gateway"
)

// ConnectionCounter reports the number of live gateway sessions.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Server is the engine's top-level HTTP listener. /health and /ws
// share the client-facing port; /metrics is served from a separate
// admin port so a scrape target never competes with trading traffic.
type Server struct {
	log           *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	counter       ConnectionCounter
}

// New builds a Server exposing /health and /ws on port, and /metrics
// on metricsPort.
func New(port, metricsPort int, gw *gateway.Server, log *slog.Logger) *Server {
	s := &Server{
		log:     log.With("component", "httpapi"),
		counter: gw,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", gw.Handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", metricsPort),
		Handler:      metricsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving the client-facing listener (/health, /ws) until
// Stop is called or the listener fails. The metrics listener runs on
// its own goroutine, started here alongside it.
func (s *Server) Start() error {
	go func() {
		s.log.Info("metrics listening", "addr", s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts both HTTP listeners down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.counter.ConnectionCount(),
		"timestamp":   time.Now().UTC(),
	})
}
