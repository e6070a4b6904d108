package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/concurrency"
	"github.com/wehubfusion/Weaver/pkg/events"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/reporting"
	"github.com/wehubfusion/Weaver/pkg/runner"
)

// DefaultRunQueueTimeout bounds how long a run request waits for a free
// limiter slot.
const DefaultRunQueueTimeout = 5 * time.Second

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

var (
	ErrInvalidJSON      = errors.New("invalid JSON")
	ErrRunQueueFull     = errors.New("too many runs in flight")
	ErrRunsSuspended    = errors.New("runs are suspended after repeated archive failures")
	ErrSaveExecution    = errors.New("failed to save execution")
	ErrListExecutions   = errors.New("failed to list executions")
	ErrGetExecution     = errors.New("failed to get execution")
	ErrUnknownNodeType  = errors.New("unknown node type")
	ErrExecutionMissing = errors.New("execution not found")
	ErrQueueDisabled    = errors.New("run queue is not configured")
	ErrEnqueue          = errors.New("failed to enqueue run")
)

// Enqueuer hands run requests to background workers
type Enqueuer interface {
	Enqueue(ctx context.Context, req runner.Request) error
}

// Server implements the HTTP API
type Server struct {
	store           archive.Store
	limiter         *concurrency.Limiter
	publisher       *events.Publisher
	reporter        *reporting.Reporter
	queue           Enqueuer
	metrics         executor.MetricsCollector
	execOpts        []executor.Option
	hub             *Hub
	logger          *zap.Logger
	runQueueTimeout time.Duration
}

// Option configures a Server
type Option func(*Server)

// WithPublisher publishes the lifecycle of every run to JetStream
func WithPublisher(p *events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithReporter reports failed runs
func WithReporter(r *reporting.Reporter) Option {
	return func(s *Server) {
		s.reporter = r
	}
}

// WithQueue accepts queued runs and hands them to q
func WithQueue(q Enqueuer) Option {
	return func(s *Server) {
		s.queue = q
	}
}

// WithMetrics shares collector with every run and serves it on /metrics
func WithMetrics(collector executor.MetricsCollector) Option {
	return func(s *Server) {
		if collector != nil {
			s.metrics = collector
			s.execOpts = append(s.execOpts, executor.WithMetrics(collector))
		}
	}
}

// WithExecutorOptions applies opts to every run
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *Server) {
		s.execOpts = append(s.execOpts, opts...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunQueueTimeout sets how long a run waits for a limiter slot
func WithRunQueueTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runQueueTimeout = d
		}
	}
}

// NewServer creates a server archiving runs to store. A nil limiter admits
// one run at a time.
func NewServer(store archive.Store, limiter *concurrency.Limiter, opts ...Option) *Server {
	if limiter == nil {
		limiter = concurrency.NewLimiter(1)
	}
	s := &Server{
		store:           store,
		limiter:         limiter,
		metrics:         executor.NoOpMetricsCollector{},
		logger:          zap.NewNop(),
		runQueueTimeout: DefaultRunQueueTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

// Hub returns the websocket hub fed by this server's runs
func (s *Server) Hub() *Hub {
	return s.hub
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)

	router.GET("/catalog", s.listCatalog)
	router.GET("/catalog/:type", s.getCatalogEntry)

	wf := router.Group("/workflows/:workflowID/executions")
	{
		wf.POST("", s.runWorkflow)
		wf.GET("", s.listExecutions)
		wf.GET("/:executionID", s.getExecution)
	}

	router.POST("/workflows/:workflowID/queue", s.queueWorkflow)

	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": s.limiter.CurrentActive(),
		"capacity":    s.limiter.Capacity(),
		"circuit":     s.limiter.CircuitBreakerState().String(),
		"clients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	limiter := s.limiter.GetMetrics()
	c.JSON(http.StatusOK, gin.H{
		"executor": s.metrics.GetMetrics(),
		"limiter": gin.H{
			"acquired":        limiter.TotalAcquired,
			"rejected":        limiter.TotalRejected,
			"peak_concurrent": limiter.PeakConcurrent,
			"avg_wait_ms":     s.limiter.GetAverageWaitTime().Milliseconds(),
		},
	})
}

func abort(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Status: status})
}
