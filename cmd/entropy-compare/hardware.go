package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"entropy-compare/internal/collector"
	"entropy-compare/internal/compare"
	"entropy-compare/internal/config"
	"entropy-compare/internal/entropy"
	"entropy-compare/internal/mqtt"
	"entropy-compare/internal/source"

	"go.uber.org/zap"
)

// nominalEventRate is the expected TDC event rate per second, used to derive
// the collector flush interval from the batch size.
const nominalEventRate = 184.0

type mqttClient interface {
	Connect(ctx context.Context) error
	Close()
}

var newMQTTClient = func(cfg mqtt.Config, handler mqtt.Handler) (mqttClient, error) {
	return mqtt.NewClient(cfg, handler)
}

// hardware is the configured physical backend together with the resources
// that must be released on shutdown.
type hardware struct {
	backend string
	source  source.Source
	pool    *entropy.WhitenedPool
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (h *hardware) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
	h.closers = nil
}

// openHardware builds the hardware source selected by cfg.Hardware.Backend.
// The tdc backend starts the MQTT ingest that feeds the whitened pool.
func openHardware(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*hardware, error) {
	backend, err := source.ParseBackend(cfg.Hardware.Backend)
	if err != nil {
		return nil, err
	}
	h := &hardware{backend: backend}

	switch backend {
	case source.BackendGateway:
		gw, err := source.NewGateway(cfg.Hardware.GatewayURL,
			&http.Client{Timeout: cfg.Hardware.GatewayTimeout},
			source.WithLogger(logger.Named("gateway")))
		if err != nil {
			return nil, err
		}
		h.source = gw
		logger.Infow("hardware backend: entropy gateway", "url", cfg.Hardware.GatewayURL)

	case source.BackendSerial:
		dev, err := source.OpenSerial(source.SerialConfig{
			Device:      cfg.Hardware.SerialDevice,
			Baud:        cfg.Hardware.SerialBaud,
			ReadTimeout: cfg.Hardware.SerialReadTimeout,
		}, source.WithLogger(logger.Named("serial")))
		if err != nil {
			return nil, err
		}
		h.source = dev
		h.closers = append(h.closers, func() {
			if err := dev.Close(); err != nil {
				logger.Warnw("serial close failed", "error", err)
			}
		})
		logger.Infow("hardware backend: serial TRNG", "device", cfg.Hardware.SerialDevice, "baud", cfg.Hardware.SerialBaud)

	case source.BackendTDC:
		pool := entropy.NewWhitenedPoolWithBounds(cfg.EntropyPool.PoolMinBytes, cfg.EntropyPool.PoolMaxBytes)
		batchCollector := setupBatchCollector(pool, cfg, logger)
		h.closers = append(h.closers, batchCollector.Close)

		client, err := connectMQTTFunc(ctx, cfg, batchCollector, logger)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.closers = append(h.closers, client.Close)
		h.pool = pool
		h.source = source.NewPool(pool, source.WithLogger(logger.Named("pool")))
		logger.Infow("hardware backend: local TDC pool", "broker", cfg.MQTT.BrokerURL)

	default:
		logger.Infow("hardware backend: none, hardware mode requests will fail")
	}
	return h, nil
}

// newComparator wires the classical source and the simulator/hardware router
// into a Comparator.
func newComparator(hw *hardware, logger *zap.SugaredLogger) (*compare.Comparator, *source.Router) {
	router := source.NewRouter(source.NewSimulator(source.WithLogger(logger.Named("simulator"))), hw.source, hw.backend)
	comparator := compare.New(source.NewClassical(), router, compare.WithLogger(logger.Named("compare")))
	return comparator, router
}

// setupBatchCollector creates a BatchCollector that feeds the whitened pool.
// The flush interval tracks how long a full batch takes at the nominal rate.
func setupBatchCollector(pool *entropy.WhitenedPool, cfg config.Config, logger *zap.SugaredLogger) *collector.BatchCollector {
	batchSize := cfg.Collector.BatchSize
	flushInterval := time.Duration(float64(batchSize)/nominalEventRate) * time.Second

	bc := collector.New(batchSize, pool,
		collector.WithFlushInterval(flushInterval),
		collector.WithLogger(logger.Named("collector")))

	logger.Infow("batch collector initialized", "batch_size", batchSize, "flush_interval", flushInterval)
	return bc
}

// setupMQTT creates and connects the MQTT client, wiring the RxHandler to the
// given BatchCollector.
func setupMQTT(ctx context.Context, cfg config.Config, bc *collector.BatchCollector) (mqttClient, error) {
	handler := &mqtt.RxHandler{Collector: bc}

	client, err := newMQTTClient(mqtt.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Topics:    cfg.MQTT.Topics,
		QoS:       cfg.MQTT.QoS,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TLSCAFile: cfg.MQTT.TLSCAFile,
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("mqtt init: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

var setupMQTTFunc = setupMQTT

// connectMQTTWithRetry repeatedly invokes setupMQTTFunc until a connection is
// established or ctx ends. It backs off exponentially with bounded jitter so
// multiple instances do not retry in lockstep during broker outages.
func connectMQTTWithRetry(ctx context.Context, cfg config.Config, bc *collector.BatchCollector, logger *zap.SugaredLogger) (mqttClient, error) {
	const (
		initialDelay   = 1 * time.Second
		maxDelay       = 30 * time.Second
		jitterFraction = 0.2
	)

	delay := initialDelay
	for attempt := 1; ; attempt++ {
		client, err := setupMQTTFunc(ctx, cfg, bc)
		if err == nil {
			logger.Infow("mqtt connected", "broker", cfg.MQTT.BrokerURL, "topics", cfg.MQTT.Topics,
				"qos", cfg.MQTT.QoS, "attempts", attempt)
			return client, nil
		}

		wait := max(time.Duration(float64(delay)*(1+(rand.Float64()*2-1)*jitterFraction)), 0)
		logger.Warnw("mqtt connect failed", "attempt", attempt, "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mqtt: giving up after %d attempt(s): %w", attempt, ctx.Err())
		case <-time.After(wait):
		}

		delay = min(delay*2, maxDelay)
	}
}
