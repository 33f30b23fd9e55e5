// Package server serves Prometheus metrics and health probes for the
// operator and gateway processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// Options configures the endpoints. An empty address or "0" disables the
// endpoint.
type Options struct {
	MetricsAddress string
	ProbeAddress   string
}

// Server exposes /metrics on the metrics address and /healthz and /readyz on
// the probe address.
type Server struct {
	opts Options

	mu      sync.Mutex
	healthz map[string]healthz.Checker
	readyz  map[string]healthz.Checker
}

// New creates a server with a ping liveness check.
func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		healthz: map[string]healthz.Checker{"ping": healthz.Ping},
		readyz:  map[string]healthz.Checker{},
	}
}

// AddHealthzCheck registers a liveness check.
func (s *Server) AddHealthzCheck(name string, check healthz.Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthz[name] = check
}

// AddReadyzCheck registers a readiness check.
func (s *Server) AddReadyzCheck(name string, check healthz.Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyz[name] = check
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) probeHandler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	checks := func(src map[string]healthz.Checker) map[string]healthz.Checker {
		dst := make(map[string]healthz.Checker, len(src))
		for k, v := range src {
			dst[k] = v
		}
		if len(dst) == 0 {
			dst["ping"] = healthz.Ping
		}
		return dst
	}

	mux := http.NewServeMux()
	live := &healthz.Handler{Checks: checks(s.healthz)}
	ready := &healthz.Handler{Checks: checks(s.readyz)}
	mux.Handle("/healthz", http.StripPrefix("/healthz", live))
	mux.Handle("/healthz/", http.StripPrefix("/healthz", live))
	mux.Handle("/readyz", http.StripPrefix("/readyz", ready))
	mux.Handle("/readyz/", http.StripPrefix("/readyz", ready))
	return mux
}

// Run serves until ctx is cancelled, then shuts the listeners down.
func (s *Server) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("server")
	g, ctx := errgroup.WithContext(ctx)

	serve := func(name, addr string, handler http.Handler) {
		if addr == "" || addr == "0" {
			return
		}
		g.Go(func() error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for %s on %s: %w", name, addr, err)
			}
			srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("Serving", "endpoint", name, "address", ln.Addr().String())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("%s server: %w", name, err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down %s server: %w", name, err)
			}
			return nil
		})
	}

	serve("metrics", s.opts.MetricsAddress, s.metricsHandler())
	serve("probes", s.opts.ProbeAddress, s.probeHandler())
	return g.Wait()
}
