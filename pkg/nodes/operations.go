// Package nodes implements the behaviour of each node type.
//
// Operations receive the node, the output of the predecessor that reached it
// and the run's execution context, and return the node's output. Dispatch is
// a closed switch over the known node types.
package nodes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/script"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// DefaultHTTPTimeout bounds one outbound request of an HTTP node.
const DefaultHTTPTimeout = 30 * time.Second

// Operations executes nodes. It holds no per-run state and may be shared by
// concurrent runs.
type Operations struct {
	client    *http.Client
	evaluator *script.Evaluator
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures Operations.
type Option func(*Operations)

// WithHTTPClient sets the client used by HTTP nodes.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Operations) {
		if client != nil {
			o.client = client
		}
	}
}

// WithEvaluator sets the evaluator used by condition and code nodes.
func WithEvaluator(evaluator *script.Evaluator) Option {
	return func(o *Operations) {
		if evaluator != nil {
			o.evaluator = evaluator
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Operations) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source used for trigger timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Operations) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an operation set.
func New(opts ...Option) (*Operations, error) {
	o := &Operations{
		client: &http.Client{Timeout: DefaultHTTPTimeout},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.evaluator == nil {
		evaluator, err := script.NewEvaluator(script.DefaultConfig(), o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create script evaluator: %w", err)
		}
		o.evaluator = evaluator
	}
	return o, nil
}

// Execute runs the operation matching node.Type.
func (o *Operations) Execute(ctx context.Context, node workflow.Node, input interface{}, ec *execution.Context) (interface{}, error) {
	switch node.Type {
	case workflow.NodeTypeManualTrigger:
		return o.trigger(ctx, node, input, ec)
	case workflow.NodeTypeHTTPRequest:
		return o.httpRequest(ctx, node, input, ec)
	case workflow.NodeTypeSetVariable:
		return o.setVariable(ctx, node, input, ec)
	case workflow.NodeTypeCondition:
		return o.condition(ctx, node, input, ec)
	case workflow.NodeTypeCode:
		return o.code(ctx, node, input, ec)
	default:
		return nil, weavererrors.NewUnknownNodeTypeError(string(node.Type))
	}
}

// Supports reports whether t has an operation.
func Supports(t workflow.NodeType) bool {
	switch t {
	case workflow.NodeTypeManualTrigger,
		workflow.NodeTypeHTTPRequest,
		workflow.NodeTypeSetVariable,
		workflow.NodeTypeCondition,
		workflow.NodeTypeCode:
		return true
	}
	return false
}
