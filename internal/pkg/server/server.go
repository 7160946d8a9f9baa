// Package server provides the operational HTTP server shared by the
// screenmon daemons: liveness and readiness probes, runtime counters,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/screenmon-io/screenmon/internal/pkg/metrics"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/options"
)

// Probes supplies the runtime state the operational endpoints report.
type Probes struct {
	// Ready reports whether the daemon is ready to do its job. A nil
	// func means always ready.
	Ready func() bool

	// Vars returns the runtime counters served on /varz. A nil func
	// serves an empty object.
	Vars func() any
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, probes Probes) *Server {
	router := mux.NewRouter()

	// Basic Liveness Probe
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness follows the broker connection.
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if probes.Ready != nil && !probes.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Runtime counters as a single JSON document.
	router.HandleFunc("/varz", func(w http.ResponseWriter, r *http.Request) {
		var vars any = map[string]any{}
		if probes.Vars != nil {
			vars = probes.Vars()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(vars); err != nil {
			log.Error(err, "Failed to encode varz response")
		}
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: router,
		},
		options: opts,
	}
}

// Start runs the server until ctx is canceled. With no address configured
// the server stays off and Start just waits for cancellation.
func (s *Server) Start(ctx context.Context) error {
	if s.options.Addr == "" {
		log.Info("Operational HTTP server disabled")
		<-ctx.Done()
		return nil
	}

	log.Info("Starting HTTP server", "addr", s.options.Addr)

	ln, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
