package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// ErrRejected marks requests that can never succeed. The runner terminates
// their messages instead of asking for redelivery.
var ErrRejected = errors.New("run request rejected")

// ObserverFactory builds the observer attached to one run.
type ObserverFactory func(ctx context.Context, workflowID, runID string) executor.Observer

// ExecutorProcessor runs requests with the executor and archives each record.
type ExecutorProcessor struct {
	store     archive.Store
	options   []executor.Option
	observers []ObserverFactory
	logger    *zap.Logger
}

// NewExecutorProcessor creates a processor that saves records to store. opts
// are applied to every run.
func NewExecutorProcessor(store archive.Store, logger *zap.Logger, opts ...executor.Option) *ExecutorProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutorProcessor{
		store:   store,
		options: opts,
		logger:  logger,
	}
}

// AddObserver attaches an observer to every subsequent run.
func (p *ExecutorProcessor) AddObserver(factory ObserverFactory) {
	if factory != nil {
		p.observers = append(p.observers, factory)
	}
}

// Process executes req. A run that fails is still archived and reported as
// processed; only a request that cannot run or a record that cannot be
// saved yields an error.
//
// A request carrying a run ID that already has a finished record is skipped,
// so redelivered messages do not run twice.
func (p *ExecutorProcessor) Process(ctx context.Context, req Request) error {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	} else if done, err := p.finished(ctx, req.WorkflowID, runID); err != nil {
		return err
	} else if done {
		p.logger.Info("Skipping finished run",
			zap.String("workflow_id", req.WorkflowID),
			zap.String("execution_id", runID))
		return nil
	}

	observers := make([]executor.Observer, 0, len(p.observers))
	for _, factory := range p.observers {
		observers = append(observers, factory(ctx, req.WorkflowID, runID))
	}

	opts := append([]executor.Option{}, p.options...)
	opts = append(opts,
		executor.WithRunID(runID),
		executor.WithLogger(p.logger.With(zap.String("workflow_id", req.WorkflowID))),
		executor.WithObserver(executor.Combine(observers...)),
	)

	record, runErr := executor.Run(ctx, req.WorkflowID, req.Canvas, opts...)
	if record == nil {
		return fmt.Errorf("%w: %v", ErrRejected, runErr)
	}

	if err := archive.SaveDetached(ctx, p.store, record); err != nil {
		return fmt.Errorf("failed to archive execution %s: %w", record.ID, err)
	}

	p.logger.Info("Run archived",
		zap.String("workflow_id", record.WorkflowID),
		zap.String("execution_id", record.ID),
		zap.String("status", string(record.Status)))
	return nil
}

func (p *ExecutorProcessor) finished(ctx context.Context, workflowID, runID string) (bool, error) {
	record, err := p.store.Get(ctx, workflowID, runID)
	if errors.Is(err, archive.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up execution %s: %w", runID, err)
	}
	return record.Status != workflow.ExecutionStatusRunning, nil
}

var _ Processor = (*ExecutorProcessor)(nil)
