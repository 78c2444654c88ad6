// Package http exposes the process's read-only observability surface:
// /healthz reports connector liveness, /metrics serves Prometheus text
// format. Routes are few and static enough that the standard library's
// http.ServeMux covers them without a router dependency.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds the health/metrics server's listen settings.
type ServerConfig struct {
	Addr         string // e.g. "127.0.0.1:8080"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig(addr string) ServerConfig {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the health/metrics HTTP server.
type Server struct {
	cfg    ServerConfig
	server *http.Server
}

// NewServer wires the static route table and builds the underlying
// *http.Server; it does not start listening until Start is called.
func NewServer(cfg ServerConfig, health *HealthHandler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health)
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("starting health/metrics server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fmt.Errorf("http: listen and serve: %w", err)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
