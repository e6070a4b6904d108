// Package runner executes queued workflow run requests pulled from NATS
// JetStream with a fixed pool of workers.
//
// A request that runs to completion is acknowledged whether the workflow
// succeeded or failed; the failure is part of the archived record. Requests
// that could not be recorded are negatively acknowledged for redelivery, and
// undecodable requests are terminated.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// Request asks for one run of a canvas.
type Request struct {
	WorkflowID string              `json:"workflow_id"`
	RunID      string              `json:"run_id,omitempty"`
	Canvas     workflow.CanvasData `json:"canvas"`
}

// Message is one delivery of a request.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Source hands out batches of pending messages. Fetch returns an empty
// batch when nothing arrived in time.
type Source interface {
	Fetch(ctx context.Context, batch int) ([]Message, error)
}

// Processor runs one decoded request.
type Processor interface {
	Process(ctx context.Context, req Request) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req Request) error

func (f ProcessorFunc) Process(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Runner pulls messages from a Source and distributes them to workers.
type Runner struct {
	source         Source
	processor      Processor
	batchSize      int
	numWorkers     int
	processTimeout time.Duration
	idleWait       time.Duration
	logger         *zap.Logger
	tracer         trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithIdleWait sets the pause after an empty fetch.
func WithIdleWait(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.idleWait = d
		}
	}
}

// NewRunner creates a runner. batchSize is the number of messages fetched at
// once, numWorkers the number of concurrent runs and processTimeout the
// maximum duration of one run.
func NewRunner(source Source, processor Processor, batchSize, numWorkers int, processTimeout time.Duration, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if batchSize <= 0 {
		return nil, errors.New("batchSize must be greater than 0")
	}
	if numWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if processTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}

	r := &Runner{
		source:         source,
		processor:      processor,
		batchSize:      batchSize,
		numWorkers:     numWorkers,
		processTimeout: processTimeout,
		idleWait:       500 * time.Millisecond,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("weaver/runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes messages until ctx is cancelled, then waits for in-flight
// requests to finish and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	messageChan := make(chan Message, r.batchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, messageChan)
		}(i)
	}

	r.pull(ctx, messageChan)
	close(messageChan)
	wg.Wait()

	r.logger.Info("Runner stopped")
	return ctx.Err()
}

func (r *Runner) pull(ctx context.Context, messageChan chan<- Message) {
	const (
		initialBackoff = 100 * time.Millisecond
		maxBackoff     = 5 * time.Second
	)
	backoff := initialBackoff

	for ctx.Err() == nil {
		messages, err := r.source.Fetch(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("Error pulling messages", zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialBackoff

		if len(messages) == 0 {
			if !sleep(ctx, r.idleWait) {
				return
			}
			continue
		}

		for i, msg := range messages {
			select {
			case messageChan <- msg:
			case <-ctx.Done():
				for _, pending := range messages[i:] {
					_ = pending.Nak()
				}
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) worker(ctx context.Context, workerID int, messageChan <-chan Message) {
	r.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))

	for msg := range messageChan {
		if ctx.Err() != nil {
			_ = msg.Nak()
			continue
		}
		r.processMessage(ctx, workerID, msg)
	}
}

func (r *Runner) processMessage(ctx context.Context, workerID int, msg Message) {
	var req Request
	if err := json.Unmarshal(msg.Data(), &req); err != nil || req.WorkflowID == "" {
		if err == nil {
			err = errors.New("workflow_id is required")
		}
		r.logger.Error("Dropping malformed run request", zap.Int("worker_id", workerID), zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			r.logger.Error("Error terminating message", zap.Error(termErr))
		}
		return
	}

	ctx, span := r.tracer.Start(ctx, "runner.process",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("workflow.id", req.WorkflowID),
			attribute.String("workflow.run_id", req.RunID),
			attribute.Int("workflow.nodes", len(req.Canvas.Nodes)),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, r.processTimeout)
	defer cancel()

	start := time.Now()
	err := r.processor.Process(processCtx, req)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", elapsed.Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Error processing run request",
			zap.Int("worker_id", workerID),
			zap.String("workflow_id", req.WorkflowID),
			zap.Duration("processing_time", elapsed),
			zap.Error(err))
		if errors.Is(err, ErrRejected) {
			if termErr := msg.Term(); termErr != nil {
				r.logger.Error("Error terminating message", zap.Error(termErr))
			}
			return
		}
		if nakErr := msg.Nak(); nakErr != nil {
			r.logger.Error("Error naking message", zap.Error(nakErr))
		}
		return
	}

	span.SetStatus(codes.Ok, "")
	r.logger.Info("Processed run request",
		zap.Int("worker_id", workerID),
		zap.String("workflow_id", req.WorkflowID),
		zap.Duration("processing_time", elapsed))
	if ackErr := msg.Ack(); ackErr != nil {
		r.logger.Error("Error acking message", zap.Error(ackErr))
	}
}

// Encode serialises req for publishing.
func Encode(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}
	return data, nil
}
