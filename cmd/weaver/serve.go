package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/internal/config"
	natsconn "github.com/wehubfusion/Weaver/internal/nats"
	"github.com/wehubfusion/Weaver/internal/server"
	"github.com/wehubfusion/Weaver/internal/tracing"
	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/events"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/nodes"
	"github.com/wehubfusion/Weaver/pkg/reporting"
	"github.com/wehubfusion/Weaver/pkg/runner"
	"github.com/wehubfusion/Weaver/pkg/script"
)

const serviceName = "weaver"

func serve() error {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	logger.Info("Weaver starting",
		zap.String("environment", cfg.Environment),
		zap.String("archive", cfg.ArchiveBackend),
		zap.Duration("node_delay", cfg.NodeDelay),
		zap.Bool("conditional_branching", cfg.ConditionalBranching),
		zap.String("concurrency", cfg.Concurrency.String()))

	ctx := context.Background()

	shutdownTracing, err := setupTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	store, closeStore, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	execOpts, err := executorOptions(cfg, logger)
	if err != nil {
		return err
	}

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithRunQueueTimeout(cfg.RunQueueTimeout),
		server.WithExecutorOptions(execOpts...),
		server.WithMetrics(executor.NewMetricsCollector()),
	}

	if cfg.NATSURL != "" {
		js, closeNATS, err := openJetStream(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeNATS()

		pub, err := openPublisher(js, cfg, logger)
		if err != nil {
			return err
		}
		if err := runner.EnsureStream(js, runSourceConfig(cfg), logger); err != nil {
			return err
		}
		serverOpts = append(serverOpts,
			server.WithPublisher(pub),
			server.WithQueue(runner.NewQueue(js, cfg.RunSubject)))
	}

	reporter, err := openReporter(cfg, logger)
	if err != nil {
		return err
	}
	if reporter != nil {
		defer reporter.Flush(2 * time.Second)
		serverOpts = append(serverOpts, server.WithReporter(reporter))
	}

	srv := server.NewServer(store, cfg.Concurrency.NewLimiter(), serverOpts...)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.APIHost, strconv.Itoa(cfg.APIPort)),
		Handler:           srv.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	srv.Hub().CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (func(), error) {
	if !cfg.TracingEnabled {
		return func() {}, nil
	}
	tc := tracing.DefaultConfig(serviceName)
	tc.Environment = cfg.Environment
	tc.OTLPEndpoint = cfg.OTLPEndpoint
	tc.SampleRatio = cfg.TraceSampleRatio
	shutdown, err := tracing.SetupTracing(ctx, tc, logger)
	if err != nil {
		return nil, err
	}
	return func() { _ = tracing.ShutdownTracing(shutdown, logger) }, nil
}

// executorOptions builds the options shared by every run. One operation set
// is reused so the HTTP client's connection pool is shared.
func executorOptions(cfg *config.Config, logger *zap.Logger) ([]executor.Option, error) {
	evaluator, err := script.NewEvaluator(cfg.Script, logger)
	if err != nil {
		return nil, err
	}
	ops, err := nodes.New(
		nodes.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		nodes.WithEvaluator(evaluator),
		nodes.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts := []executor.Option{
		executor.WithNodeDelay(cfg.NodeDelay),
		executor.WithOperations(ops),
		executor.WithTracer(otel.Tracer(serviceName)),
	}
	if cfg.ConditionalBranching {
		opts = append(opts, executor.WithConditionalBranching())
	}
	return opts, nil
}

// openReporter returns nil while no Sentry DSN is configured.
func openReporter(cfg *config.Config, logger *zap.Logger) (*reporting.Reporter, error) {
	if cfg.SentryDSN == "" {
		return nil, nil
	}
	reporter, err := reporting.New(reporting.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sentry: %w", err)
	}
	return reporter, nil
}

func openArchive(cfg *config.Config, logger *zap.Logger) (archive.Store, func(), error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		store := archive.NewRedisStore(client,
			archive.WithRedisPrefix(cfg.RedisPrefix),
			archive.WithRedisTTL(cfg.RedisTTL),
			archive.WithRedisLogger(logger))
		return store, func() { _ = client.Close() }, nil

	case config.ArchiveBlob:
		store, err := archive.NewBlobStore(cfg.BlobConnectionString, cfg.BlobContainer, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	default:
		return archive.NewMemoryStore(), func() {}, nil
	}
}

func openJetStream(ctx context.Context, cfg *config.Config, logger *zap.Logger) (nats.JetStreamContext, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := natsconn.Connect(connectCtx, natsconn.DefaultConnectionConfig(cfg.NATSURL), logger)
	if err != nil {
		return nil, nil, err
	}
	closeConn := func() { _ = natsconn.Close(conn) }

	js, err := conn.JetStream()
	if err != nil {
		closeConn()
		return nil, nil, fmt.Errorf("failed to open JetStream: %w", err)
	}
	return js, closeConn, nil
}

func openPublisher(js nats.JetStreamContext, cfg *config.Config, logger *zap.Logger) (*events.Publisher, error) {
	pub, err := events.NewPublisher(events.WrapNATSJetStream(js), events.Config{
		SubjectPrefix:     cfg.NATSSubjectPrefix,
		Stream:            cfg.NATSStream,
		PublishMaxRetries: 3,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := pub.EnsureStream(); err != nil {
		return nil, err
	}
	return pub, nil
}

func runSourceConfig(cfg *config.Config) runner.SourceConfig {
	return runner.SourceConfig{
		StreamName: cfg.RunStream,
		Subject:    cfg.RunSubject,
		Durable:    cfg.RunDurable,
		AckWait:    cfg.RunTimeout + time.Minute,
	}
}
