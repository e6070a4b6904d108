package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/concurrency"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/runner"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// runWorkflow executes the posted canvas synchronously and archives the
// record. A failed run answers 422 with the record; only archive failures
// count against the limiter's circuit breaker. The record is saved even when
// the client disconnects mid-run.
func (s *Server) runWorkflow(c *gin.Context) {
	workflowID := c.Param("workflowID")

	var canvas workflow.CanvasData
	if err := c.ShouldBindJSON(&canvas); err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}

	acquireCtx, cancel := context.WithTimeout(c.Request.Context(), s.runQueueTimeout)
	defer cancel()

	var (
		record *workflow.WorkflowExecution
		runErr error
	)
	err := s.limiter.GoSync(acquireCtx, func() error {
		record, runErr = s.execute(c.Request.Context(), workflowID, canvas)
		if record == nil {
			return nil
		}
		if err := archive.SaveDetached(c.Request.Context(), s.store, record); err != nil {
			return fmt.Errorf("%w: %v", ErrSaveExecution, err)
		}
		return nil
	})

	switch {
	case errors.Is(err, concurrency.ErrCircuitOpen):
		abort(c, http.StatusServiceUnavailable, ErrRunsSuspended)
	case errors.Is(err, context.DeadlineExceeded) && record == nil:
		abort(c, http.StatusServiceUnavailable, ErrRunQueueFull)
	case err != nil:
		s.logger.Error("run not archived", zap.String("workflow_id", workflowID), zap.Error(err))
		abort(c, http.StatusInternalServerError, err)
	case record == nil:
		abort(c, http.StatusInternalServerError, runErr)
	case runErr != nil:
		c.JSON(http.StatusUnprocessableEntity, record)
	default:
		c.JSON(http.StatusCreated, record)
	}
}

// queueWorkflow hands the posted canvas to the run queue and answers with
// the execution ID the worker will archive the record under.
func (s *Server) queueWorkflow(c *gin.Context) {
	if s.queue == nil {
		abort(c, http.StatusNotImplemented, ErrQueueDisabled)
		return
	}
	workflowID := c.Param("workflowID")

	var canvas workflow.CanvasData
	if err := c.ShouldBindJSON(&canvas); err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}

	req := runner.Request{
		WorkflowID: workflowID,
		RunID:      uuid.NewString(),
		Canvas:     canvas,
	}
	if err := s.queue.Enqueue(c.Request.Context(), req); err != nil {
		s.logger.Error("run not queued", zap.String("workflow_id", workflowID), zap.Error(err))
		abort(c, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", ErrEnqueue, err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"workflow_id":  workflowID,
		"execution_id": req.RunID,
		"status":       "queued",
	})
}

func (s *Server) execute(ctx context.Context, workflowID string, canvas workflow.CanvasData) (*workflow.WorkflowExecution, error) {
	runID := uuid.NewString()
	observers := []executor.Observer{s.hub.Observer(workflowID, runID)}
	if s.publisher != nil {
		observers = append(observers, s.publisher.Observer(ctx, workflowID, runID))
	}
	if s.reporter != nil {
		observers = append(observers, s.reporter.Observer())
	}

	opts := append([]executor.Option{}, s.execOpts...)
	opts = append(opts,
		executor.WithRunID(runID),
		executor.WithLogger(s.logger.With(zap.String("workflow_id", workflowID))),
		executor.WithObserver(executor.Combine(observers...)),
	)

	record, err := executor.Run(ctx, workflowID, canvas, opts...)
	if record != nil {
		s.logger.Info("run finished",
			zap.String("workflow_id", workflowID),
			zap.String("execution_id", record.ID),
			zap.String("status", string(record.Status)),
			zap.Int("nodes", len(record.ExecutionData.Results)))
	}
	return record, err
}

func (s *Server) listExecutions(c *gin.Context) {
	records, err := s.store.List(c.Request.Context(), c.Param("workflowID"))
	if err != nil {
		abort(c, http.StatusInternalServerError, fmt.Errorf("%w: %v", ErrListExecutions, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": records,
		"count":      len(records),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	workflowID := c.Param("workflowID")
	executionID := c.Param("executionID")

	record, err := s.store.Get(c.Request.Context(), workflowID, executionID)
	if errors.Is(err, archive.ErrNotFound) {
		abort(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrExecutionMissing, executionID))
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, fmt.Errorf("%w: %v", ErrGetExecution, err))
		return
	}
	c.JSON(http.StatusOK, record)
}
