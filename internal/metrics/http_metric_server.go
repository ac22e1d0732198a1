package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"entropy-compare/internal/tlsconfig"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	metricsPath = "/api/v1/metrics"
	healthPath  = "/api/v1/health"
)

var errServerNotInitialized = errors.New("metrics server not initialized")

// Server exposes a Prometheus gatherer on metricsPath and a liveness probe
// on healthPath. It runs beside the REST API so scrapes never compete with
// the API rate limiter.
type Server struct {
	addr   string
	server *http.Server
	logger *zap.SugaredLogger
}

// NewServer builds a metrics server for addr. A nil gatherer serves
// prometheus.DefaultGatherer.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := zap.S().Named("metrics")

	mux := http.NewServeMux()
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Warnw("health write failed", "error", err)
		}
	})

	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves plain HTTP until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	return s.serve(nil)
}

// StartTLS serves HTTPS until Shutdown. Client certificates are required
// when cfg asks for mutual TLS.
func (s *Server) StartTLS(cfg tlsconfig.ServerConfig) error {
	return s.serve(&cfg)
}

func (s *Server) serve(tlsCfg *tlsconfig.ServerConfig) error {
	if s.server == nil {
		return errServerNotInitialized
	}
	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	scheme := "http"
	listen := s.server.ListenAndServe
	if tlsCfg != nil {
		if err := tlsconfig.ConfigureServer(s.server, *tlsCfg); err != nil {
			return fmt.Errorf("metrics: configure TLS: %w", err)
		}
		scheme = "https"
		listen = func() error { return s.server.ListenAndServeTLS("", "") }
		s.logger.Infow("tls enabled", "cert", tlsCfg.CertFile, "client_ca", tlsCfg.CAFile)
	}

	s.logger.Infow("listening", "addr", s.addr, "scheme", scheme)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %s server error: %w", scheme, err)
	}
	s.logger.Infow("stopped", "scheme", scheme)
	return nil
}

// Shutdown waits for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	return nil
}

// validateAddress requires host:port with a non-empty port. Empty and
// wildcard hosts listen on every interface; any other name must resolve.
func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid host:port format: %w", err)
	}
	if port == "" {
		return errors.New("port is required")
	}

	switch {
	case host == "", host == "0.0.0.0", host == "::", net.ParseIP(host) != nil:
		return nil
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("cannot resolve host %q: %w", host, err)
	}
	return nil
}
