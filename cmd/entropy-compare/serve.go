package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"entropy-compare/internal/api"
	"entropy-compare/internal/config"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/tlsconfig"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	apiShutdownTimeout     = 10 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

type shutdowner interface {
	Shutdown(context.Context) error
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, the metrics server and the configured hardware ingest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	hw, err := openHardware(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("hardware: %w", err)
	}

	comparator, router := newComparator(hw, a.logger)
	deps := api.Dependencies{Comparator: comparator, Health: router}
	if hw.pool != nil {
		deps.Pool = hw.pool
	}

	apiServer, err := api.New(a.cfg.API, deps,
		api.WithLogger(a.logger.Named("api")),
		api.WithGenerationTimeout(a.cfg.Generation.Timeout))
	if err != nil {
		hw.Close()
		return fmt.Errorf("api: %w", err)
	}
	if err := startAPI(apiServer, a.cfg.API.TLS); err != nil {
		hw.Close()
		return err
	}

	var metricsServer *metrics.Server
	if a.cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(a.cfg.Metrics.Bind, nil)
		go runMetrics(metricsServer, a.cfg.Metrics.TLS, a.logger)
	}

	a.logger.Infow("entropy-compare ready", "api", apiServer.Addr(), "hardware_backend", hw.backend)
	waitForShutdownFunc(ctx)

	a.logger.Info("shutting down gracefully")
	hw.Close()
	shutdown(apiServer, apiShutdownTimeout, "api", a.logger)
	if metricsServer != nil {
		shutdown(metricsServer, metricsShutdownTimeout, "metrics", a.logger)
	}
	a.logger.Info("shutdown complete")
	return nil
}

func serverTLS(cfg config.TLS) (tlsconfig.ServerConfig, error) {
	clientAuth, err := tlsconfig.ParseClientAuth(cfg.ClientAuth)
	if err != nil {
		return tlsconfig.ServerConfig{}, err
	}
	return tlsconfig.ServerConfig{
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
		CAFile:     cfg.CAFile,
		ClientAuth: clientAuth,
	}, nil
}

func startAPI(server *api.Server, cfg config.TLS) error {
	if !cfg.Enabled {
		if err := server.Start(); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		return nil
	}

	tlsCfg, err := serverTLS(cfg)
	if err != nil {
		return fmt.Errorf("api tls: %w", err)
	}
	if err := server.StartTLS(tlsCfg); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	return nil
}

// runMetrics serves metrics until shutdown. Start errors are logged rather
// than fatal so the API keeps serving.
func runMetrics(server *metrics.Server, cfg config.TLS, logger *zap.SugaredLogger) {
	var err error
	if cfg.Enabled {
		var tlsCfg tlsconfig.ServerConfig
		if tlsCfg, err = serverTLS(cfg); err == nil {
			err = server.StartTLS(tlsCfg)
		}
	} else {
		err = server.Start()
	}
	if err != nil {
		logger.Errorw("metrics server failed", "error", err)
	}
}

func shutdown(server shutdowner, timeout time.Duration, name string, logger *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warnw("shutdown error", "server", name, "error", err)
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received or ctx ends.
func waitForShutdown(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signalNotifyFunc(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
}
