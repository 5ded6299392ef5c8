// Package metrics exposes the /metrics and /healthz HTTP surface every DNA
// role serves, plus the Prometheus collectors each subsystem registers.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apibara/dna/internal/svc"
)

var log = logrus.WithField("prefix", "metrics")

// Service serves /metrics (the Prometheus default registry) and /healthz
// (the combined status of every service in registry), adapted from the
// teacher's shared/prometheus service.
type Service struct {
	server     *http.Server
	registry   *svc.Registry
	failStatus error
}

// NewService builds a metrics/health service bound to addr. An empty host
// in addr matches any interface (e.g. ":9090").
func NewService(addr string, registry *svc.Registry) *Service {
	s := &Service{registry: registry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.registry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for name, err := range statuses {
		status := "OK"
		if err != nil {
			hasError = true
			status = "ERROR " + err.Error()
		}
		fmt.Fprintf(&buf, "%s: %s\n", name, status)
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
		log.WithField("statuses", buf.String()).Warn("unhealthy")
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("failed to write healthz body")
	}
}

// Start begins serving in the background, refusing to bind if something is
// already listening on the configured address.
func (s *Service) Start() {
	go func() {
		addr := s.server.Addr
		host, port, err := net.SplitHostPort(addr)
		if err == nil {
			if host == "" {
				host = "127.0.0.1"
			}
			if conn, dialErr := net.DialTimeout("tcp", net.JoinHostPort(host, port), time.Second); dialErr == nil {
				conn.Close()
				log.WithField("address", addr).Warn("port already in use; not starting metrics service")
				return
			}
		}

		log.WithField("address", addr).Info("starting metrics service")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics service stopped unexpectedly")
			s.failStatus = err
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports the last fatal serving error, if any.
func (s *Service) Status() error {
	return s.failStatus
}

var _ svc.Service = (*Service)(nil)
