// Package api serves the comparison engine over REST. Request bodies are
// checked against JSON schemas before binding, mutating endpoints are rate
// limited with a token bucket, and the listener is restricted to loopback
// unless public binding is enabled.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/compare"
	"entropy-compare/internal/config"
	"entropy-compare/internal/metrics"
	"entropy-compare/internal/source"
	"entropy-compare/internal/tlsconfig"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAddress           = "127.0.0.1:8090"
	defaultShutdownTimeout   = 5 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultReadTimeout       = 10 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultGenerationTimeout = 30 * time.Second
	baseURLV1                = "/api/v1"
)

// HealthSource reports the hardware backend behind the external source.
// *source.Router implements it.
type HealthSource interface {
	Backend() string
	Health() (source.Status, bool)
}

// PoolStatus is the optional local entropy pool served by the binary
// entropy endpoint.
type PoolStatus interface {
	source.EntropyPool
	PoolStatus() (rawEvents int, whitenedBytes int)
}

// Dependencies are the collaborators a Server dispatches to.
type Dependencies struct {
	Comparator *compare.Comparator
	Health     HealthSource
	Pool       PoolStatus
}

// Option configures a Server.
type Option func(*Server)

// WithClock injects the clock used by the rate limiter.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGenerationTimeout bounds each compare or benchmark call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.generationTimeout = d
		}
	}
}

// Server is the REST front end.
type Server struct {
	deps              Dependencies
	engine            *gin.Engine
	server            *http.Server
	listener          net.Listener
	schemas           schemas
	limiter           *tokenBucket
	retryAfterSeconds int
	generationTimeout time.Duration
	shutdownTimeout   time.Duration
	clock             clock.Clock
	logger            *zap.SugaredLogger
}

// New builds a Server from the API configuration. It fails when the bind
// address is not loopback and public binding is disabled.
func New(cfg config.API, deps Dependencies, opts ...Option) (*Server, error) {
	if deps.Comparator == nil {
		return nil, errors.New("api: comparator is nil")
	}

	s := &Server{
		deps:              deps,
		retryAfterSeconds: max(cfg.RetryAfterSec, 1),
		generationTimeout: defaultGenerationTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		clock:             clock.RealClock{},
		logger:            zap.S().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	addr, err := enforceLoopbackAddr(cfg.Bind, cfg.AllowPublic, s.logger)
	if err != nil {
		return nil, err
	}

	if s.schemas, err = compileSchemas(); err != nil {
		return nil, err
	}

	rps, burst := cfg.RateLimitRPS, cfg.RateLimitBurst
	if rps <= 0 {
		rps = 25
	}
	if burst <= 0 {
		burst = rps
	}
	s.limiter = newTokenBucket(float64(rps), float64(burst), s.clock)
	s.logger.Infow("rate limiter configured", "rps", rps, "burst", burst)

	s.engine = s.routes(cfg.CORSOrigins)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	return s, nil
}

func (s *Server) routes(origins []string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.withRequestID(), s.recordRequest())
	engine.Use(cors.New(corsConfig(origins)))

	v1 := engine.Group(baseURLV1)
	v1.GET("/health", s.handleHealth)

	limited := v1.Group("", s.rateLimit())
	limited.POST("/analyze", s.handleAnalyze)
	limited.POST("/compare", s.handleCompare)
	limited.POST("/benchmark", s.handleBenchmark)
	limited.GET("/entropy/binary", s.handleEntropy)

	engine.NoRoute(func(c *gin.Context) {
		abortWith(c, http.StatusNotFound, errorBody{Error: "not found", Kind: kindInvalidRequest})
	})
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Accept"},
		ExposeHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address after Start, or the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.serve(listener)
	s.logger.Infow("listening", "addr", listener.Addr().String())
	return nil
}

// StartTLS serves HTTPS, verifying client certificates according to cfg.
func (s *Server) StartTLS(cfg tlsconfig.ServerConfig) error {
	if err := tlsconfig.ConfigureServer(s.server, cfg); err != nil {
		return fmt.Errorf("api: configure TLS: %w", err)
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.serve(tls.NewListener(listener, s.server.TLSConfig))
	s.logger.Infow("listening", "addr", listener.Addr().String(), "tls", true, "client_ca", cfg.CAFile)
	return nil
}

func (s *Server) serve(listener net.Listener) {
	s.listener = listener
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("serve error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
// or, for a nil ctx, the default shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) recordRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clock.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Writer.Status(), s.clock.Now().Sub(start))
		s.logger.Debugw("request", "method", c.Request.Method, "route", route,
			"status", c.Writer.Status(), "request_id", requestID(c))
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := s.limiter.Allow()
		if allowed {
			c.Next()
			return
		}
		metrics.RecordAPIRateLimited()
		setNoStoreHeaders(c)
		seconds := setRetryAfter(c, s.retryAfterSeconds, wait)
		abortWith(c, http.StatusServiceUnavailable, errorBody{
			Error: "rate limit exceeded",
			Hint:  fmt.Sprintf("retry after %d seconds", seconds),
			Kind:  kindRateLimited,
		})
	}
}
