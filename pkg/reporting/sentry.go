// Package reporting sends failed workflow runs to Sentry.
package reporting

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// Config holds Sentry client settings. An empty DSN yields a client that
// drops every event.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Reporter captures failed runs on its own hub so it never touches the
// global Sentry state.
type Reporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// New creates a reporter from config.
func New(config Config, logger *zap.Logger) (*Reporter, error) {
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         config.DSN,
		Environment: config.Environment,
		Release:     config.Release,
		SampleRate:  config.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient creates a reporter around an existing client.
func NewWithClient(client *sentry.Client, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}
}

// CaptureRun reports record when it failed and ignores it otherwise. The
// event is tagged with the workflow, run and failing node, and carries the
// error code when cause is a typed engine error.
func (r *Reporter) CaptureRun(record *workflow.WorkflowExecution, cause error) {
	if record == nil || record.Status != workflow.ExecutionStatusFailed {
		return
	}
	if cause == nil {
		cause = errors.New(record.ErrorMessage)
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("workflow_id", record.WorkflowID)
		scope.SetTag("execution_id", record.ID)
		scope.SetTag("node_id", record.ExecutionData.CurrentNodeID)
		if code := weavererrors.CodeOf(cause); code != "" {
			scope.SetTag("error_code", code)
		}
		scope.SetContext("execution", sentry.Context{
			"started_at":   record.StartedAt,
			"completed_at": record.CompletedAt,
			"nodes_run":    len(record.ExecutionData.Results),
		})

		if id := r.hub.CaptureException(cause); id != nil {
			r.logger.Debug("reported failed run",
				zap.String("execution_id", record.ID),
				zap.String("event_id", string(*id)))
		}
	})
}

// Observer returns callbacks that report the run once it completes. The
// record's error message stands in for the cause.
func (r *Reporter) Observer() executor.Observer {
	return executor.Observer{
		RunCompleted: func(record *workflow.WorkflowExecution) {
			r.CaptureRun(record, nil)
		},
	}
}

// Flush waits up to timeout for buffered events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
