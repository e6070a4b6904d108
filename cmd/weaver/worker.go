package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/internal/config"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/runner"
)

// worker executes queued run requests until interrupted.
func worker() error {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Weaver worker starting",
		zap.String("environment", cfg.Environment),
		zap.String("archive", cfg.ArchiveBackend),
		zap.String("subject", cfg.RunSubject),
		zap.Int("workers", cfg.Workers),
		zap.Int("batch_size", cfg.RunBatchSize),
		zap.Duration("run_timeout", cfg.RunTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	js, closeNATS, err := openJetStream(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNATS()

	pub, err := openPublisher(js, cfg, logger)
	if err != nil {
		return err
	}

	processor := runner.NewExecutorProcessor(store, logger, execOpts...)
	processor.AddObserver(pub.Observer)

	reporter, err := openReporter(cfg, logger)
	if err != nil {
		return err
	}
	if reporter != nil {
		defer reporter.Flush(2 * time.Second)
		processor.AddObserver(func(context.Context, string, string) executor.Observer {
			return reporter.Observer()
		})
	}

	source, err := runner.NewNATSSource(js, runSourceConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	r, err := runner.NewRunner(source, processor, cfg.RunBatchSize, cfg.Workers, cfg.RunTimeout,
		runner.WithLogger(logger),
		runner.WithTracer(otel.Tracer(serviceName)))
	if err != nil {
		return err
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
