// Package http exposes the relayer over a JSON HTTP API built on gin.
package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
)

// DefaultRequestTimeout bounds the work done for a single request, including confirmation polling
const DefaultRequestTimeout = 60 * time.Second

// RelayService is the relayer surface served over HTTP
type RelayService interface {
	Quote(ctx context.Context, req relayer.QuoteRequest) (*relayer.Quote, error)
	Submit(ctx context.Context, req relayer.SponsorshipRequest) (*relayer.SubmitResult, error)
	Status(ctx context.Context, hash string) (relayer.ChainStatus, error)
	Health(ctx context.Context) (*relayer.Health, error)
	Stats(ctx context.Context) relayer.Stats
	SafetyStats(ctx context.Context, address string) (relayer.SafetyStats, error)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit sets the per-address request budget per minute
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		s.limiter = NewAddressLimiter(perMinute)
	}
}

// WithRequestTimeout bounds each request
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// Server holds the HTTP handlers
type Server struct {
	service RelayService
	limiter *AddressLimiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewServer creates a server for service
func NewServer(service RelayService, opts ...Option) *Server {
	s := &Server{
		service: service,
		limiter: NewAddressLimiter(DefaultRequestsPerMinute),
		timeout: DefaultRequestTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the relayer routes on r
func (s *Server) RegisterRoutes(r gin.IRouter) {
	limited := RateLimitByAddress(s.limiter)

	r.POST("/quote", limited, s.handleQuote)
	r.POST("/submit", limited, s.handleSubmit)
	r.GET("/status/:hash", s.handleStatus)
	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/safety-stats", s.handleSafetyStats)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("clientIP", c.ClientIP()),
		)
	}
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}
