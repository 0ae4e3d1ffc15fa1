package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP server exposing the Prometheus metrics registered in
// this package, separate from the controller sessions and the aggregator
// that feed the attack's own request/task/error reporting.
type Server struct {
	addr   string
	path   string
	log    *logrus.Entry
	server *http.Server
}

// NewServer returns a Server listening on addr. An empty path defaults to
// "/metrics".
func NewServer(addr, path string, log *logrus.Entry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{addr: addr, path: path, log: log}
}

// Start begins serving in the background. It returns immediately; server
// errors other than a graceful shutdown are logged, not returned.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", s.addr).WithField("path", s.path).Info("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err).Error("metrics server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting up to 5 seconds for
// in-flight scrapes to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}

	s.log.Info("metrics server stopped")
	return nil
}
