package executor

import (
	"context"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/nodes"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// Run executes canvas once and returns the record of the run. The record is
// returned on failure too, alongside the error that aborted the run.
// Observers registered with WithObserver receive RunCompleted with the final
// record.
func Run(ctx context.Context, workflowID string, canvas workflow.CanvasData, opts ...Option) (*workflow.WorkflowExecution, error) {
	exec, err := New(canvas, nil, nil, opts...)
	if err != nil {
		return nil, err
	}

	record := &workflow.WorkflowExecution{
		ID:         exec.RunID(),
		WorkflowID: workflowID,
		Status:     workflow.ExecutionStatusRunning,
		StartedAt:  exec.opts.now().UTC().Format(nodes.TimestampLayout),
	}

	results, runErr := exec.Execute(ctx)

	record.CompletedAt = exec.opts.now().UTC().Format(nodes.TimestampLayout)
	record.ExecutionData = workflow.ExecutionData{
		Results:       results,
		CurrentNodeID: exec.CurrentNodeID(),
	}
	if runErr != nil {
		record.Status = workflow.ExecutionStatusFailed
		record.ErrorMessage = weavererrors.Message(runErr)
	} else {
		record.Status = workflow.ExecutionStatusCompleted
	}

	for _, obs := range exec.opts.observers {
		if obs.RunCompleted != nil {
			obs.RunCompleted(record)
		}
	}
	return record, runErr
}
