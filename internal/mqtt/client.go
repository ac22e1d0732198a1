// Package mqtt is a receive-only MQTT client for TDC decay timestamps. It
// feeds the whitened pool behind the "tdc" hardware source, wraps the Eclipse
// Paho library, resubscribes after reconnects and supports TLS brokers.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/metrics"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	connectTimeout      = 10 * time.Second
	subscribeTimeout    = 10 * time.Second
	disconnectQuiesceMS = 250
	clientIDPrefix      = "entropy-compare-"
)

// Handler receives decoded MQTT messages. Implementations should return
// promptly.
type Handler interface {
	OnMessage(topic string, payload []byte)
}

// Config holds the broker connection and subscription parameters.
type Config struct {
	BrokerURL string   // e.g. "tcp://127.0.0.1:1883" or "ssl://mqtt.example.com:8883"
	ClientID  string   // random when empty
	Topics    []string // e.g. ["timestamps/channel/#"]
	QoS       byte     // 0 or 1
	Username  string
	Password  string
	TLSCAFile string // CA for broker verification; system pool when empty
}

// Client subscribes to the configured topics on connect and again after
// every reconnect.
type Client struct {
	config                    Config
	pahoClient                paho.Client
	handler                   Handler
	initialSubscriptionOnce   sync.Once
	initialSubscriptionResult chan error
	connectAttempts           int32
	clockSource               clock.Clock
	logger                    *zap.SugaredLogger
}

// NewClient validates config and builds the Paho client. No connection is
// opened until Connect.
func NewClient(config Config, handler Handler) (*Client, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt: BrokerURL required")
	}
	if len(config.Topics) == 0 {
		return nil, errors.New("mqtt: at least one Topic required")
	}
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	if config.QoS > 1 {
		config.QoS = 1
	}

	client := &Client{
		config:                    config,
		handler:                   handler,
		initialSubscriptionResult: make(chan error, 1),
		clockSource:               clock.RealClock{},
		logger:                    zap.S().Named("mqtt"),
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetKeepAlive(20 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
			if handler != nil {
				handler.OnMessage(msg.Topic(), msg.Payload())
			}
		}).
		SetOnConnectHandler(client.handleConnect).
		SetConnectionLostHandler(client.handleConnectionLost)

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	if isTLSBroker(config.BrokerURL) {
		tlsConfig, err := createMQTTTLSConfig(config, client.logger)
		if err != nil {
			return nil, fmt.Errorf("mqtt: TLS configuration failed: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client.pahoClient = paho.NewClient(opts)
	return client, nil
}

// isTLSBroker reports whether the broker URL scheme implies TLS.
func isTLSBroker(brokerURL string) bool {
	lower := strings.ToLower(brokerURL)
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "tcps://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func createMQTTTLSConfig(config Config, logger *zap.SugaredLogger) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.TLSCAFile != "" {
		caCert, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
		logger.Infow("using custom CA certificate", "file", config.TLSCAFile)
		return tlsConfig, nil
	}

	systemCAs, err := x509.SystemCertPool()
	if err != nil {
		logger.Warnw("failed to load system CA pool, using empty pool", "error", err)
		systemCAs = x509.NewCertPool()
	}
	tlsConfig.RootCAs = systemCAs
	return tlsConfig, nil
}

func generateClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// Connect opens the broker connection and blocks until the initial
// subscription completes, ctx ends, or the connect or subscribe timeout
// elapses.
func (c *Client) Connect(ctx context.Context) error {
	if c.pahoClient == nil {
		return errors.New("mqtt: client not initialized")
	}

	token := c.pahoClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		metrics.SetMQTTConnected(false)
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}

	select {
	case err, ok := <-c.initialSubscriptionResult:
		if !ok || err == nil {
			return nil
		}
		metrics.SetMQTTConnected(false)
		return err
	case <-ctx.Done():
		metrics.SetMQTTConnected(false)
		return fmt.Errorf("mqtt: waiting for initial subscribe: %w", ctx.Err())
	case <-c.afterDuration(subscribeTimeout):
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: initial subscribe timeout")
	}
}

func (c *Client) afterDuration(d time.Duration) <-chan time.Time {
	if c.clockSource == nil {
		return time.After(d)
	}
	return c.clockSource.After(d)
}

// Close disconnects from the broker. It is safe to call more than once.
func (c *Client) Close() {
	metrics.SetMQTTConnected(false)

	if c.pahoClient != nil && c.pahoClient.IsConnectionOpen() {
		metrics.RecordMQTTDisconnect()
		c.pahoClient.Disconnect(disconnectQuiesceMS)
	}
}

func (c *Client) log() *zap.SugaredLogger {
	if c.logger == nil {
		return zap.S().Named("mqtt")
	}
	return c.logger
}

func (c *Client) handleConnectionLost(_ paho.Client, err error) {
	metrics.SetMQTTConnected(false)
	metrics.RecordMQTTDisconnect()
	if err != nil {
		c.log().Warnw("connection lost", "error", err)
		return
	}
	c.log().Warn("connection lost (reason unknown)")
}

// handleConnect subscribes on every connection, including reconnects, and
// reports the first result to Connect.
func (c *Client) handleConnect(pahoClient paho.Client) {
	if err := c.subscribe(pahoClient); err != nil {
		metrics.SetMQTTConnected(false)
		c.log().Errorw("subscribe failed", "error", err)
		c.completeInitialSubscription(fmt.Errorf("mqtt: subscribe failed: %w", err))
		return
	}

	if atomic.AddInt32(&c.connectAttempts, 1) > 1 {
		metrics.RecordMQTTReconnect()
		c.log().Infow("re-subscribed", "topics", c.config.Topics, "qos", c.config.QoS)
	} else {
		c.log().Infow("subscribed", "topics", c.config.Topics, "qos", c.config.QoS)
	}

	metrics.SetMQTTConnected(true)
	metrics.RecordMQTTConnect()
	c.completeInitialSubscription(nil)
}

func (c *Client) subscribe(pahoClient paho.Client) error {
	for _, topic := range c.config.Topics {
		token := pahoClient.Subscribe(topic, c.config.QoS, nil)
		if !token.WaitTimeout(subscribeTimeout) {
			return fmt.Errorf("subscribe to %s: timeout", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

func (c *Client) completeInitialSubscription(err error) {
	c.initialSubscriptionOnce.Do(func() {
		c.initialSubscriptionResult <- err
		close(c.initialSubscriptionResult)
	})
}
