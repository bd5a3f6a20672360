// Package monitoring serves the broker status and Prometheus metrics over HTTP.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shrtyk/logstream-core/pkg/logger"
)

const (
	contentTypeJSON   = "application/json"
	readHeaderTimeout = 5 * time.Second
)

// StatusFunc returns a JSON serializable snapshot of the broker state.
type StatusFunc func() any

// NewRouter builds the monitoring routes:
//
//	GET /status   broker status as JSON
//	GET /metrics  Prometheus exposition of gatherer
//	GET /health   liveness check
func NewRouter(status StatusFunc, gatherer prometheus.Gatherer, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.Warn("failed to encode status for monitoring", logger.ErrAttr(err))
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Server is the monitoring HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	wg         sync.WaitGroup

	mu   sync.Mutex
	addr string
}

func NewServer(addr string, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		logger: log.With("component", "monitoring"),
		addr:   addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("monitoring: failed to listen: %w", err)
	}
	s.mu.Lock()
	s.addr = l.Addr().String()
	s.mu.Unlock()

	s.logger.Info("starting monitoring server", slog.String("addr", s.Addr()))
	s.wg.Go(func() {
		if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring server failed", logger.ErrAttr(err))
		}
	})
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("monitoring: failed to shutdown: %w", err)
	}
	return nil
}
