// Package executor runs a workflow graph once.
//
// Execution starts at every trigger node, in node order, and walks the graph
// depth first. Each node's output becomes the input of its successors, which
// run one after another in connection order. The first failing node aborts
// the whole run. Every node produces exactly one trace entry per visit, and
// observers are told when a node starts and when it completes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/nodes"
	"github.com/wehubfusion/Weaver/pkg/script"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

const tracerName = "github.com/wehubfusion/Weaver/pkg/executor"

// ErrAlreadyExecuted is returned by Execute when the executor has run before.
var ErrAlreadyExecuted = errors.New("executor has already been executed")

// State is the lifecycle state of an executor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// NodeStartedFunc is called before a node does any work.
type NodeStartedFunc func(nodeID string)

// NodeCompletedFunc is called with the trace entry of a finished node,
// whether it succeeded or failed.
type NodeCompletedFunc func(result workflow.NodeExecutionResult)

// Executor runs one graph snapshot exactly once.
type Executor struct {
	nodes       []workflow.Node
	connections []workflow.Connection
	byID        map[string]workflow.Node

	onStarted   NodeStartedFunc
	onCompleted NodeCompletedFunc

	opts  options
	ops   *nodes.Operations
	ec    *execution.Context
	state atomic.Int32

	mu          sync.Mutex
	trace       []workflow.NodeExecutionResult
	currentNode string
}

// New creates an executor for a snapshot of canvas. Either callback may be
// nil.
func New(canvas workflow.CanvasData, onStarted NodeStartedFunc, onCompleted NodeCompletedFunc, opts ...Option) (*Executor, error) {
	o := options{
		delay:   DefaultNodeDelay,
		logger:  zap.NewNop(),
		metrics: NoOpMetricsCollector{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	o.logger = o.logger.With(zap.String("run_id", o.runID))

	ops := o.operations
	if ops == nil {
		var err error
		ops, err = newOperations(o)
		if err != nil {
			return nil, err
		}
	}

	e := &Executor{
		nodes:       append([]workflow.Node(nil), canvas.Nodes...),
		connections: append([]workflow.Connection(nil), canvas.Connections...),
		byID:        make(map[string]workflow.Node, len(canvas.Nodes)),
		onStarted:   onStarted,
		onCompleted: onCompleted,
		opts:        o,
		ops:         ops,
		ec:          execution.NewContext(),
		trace:       []workflow.NodeExecutionResult{},
	}
	for _, n := range e.nodes {
		if _, dup := e.byID[n.ID]; !dup {
			e.byID[n.ID] = n
		}
	}
	return e, nil
}

func newOperations(o options) (*nodes.Operations, error) {
	nodeOpts := []nodes.Option{nodes.WithLogger(o.logger), nodes.WithClock(o.now)}
	if o.httpClient != nil {
		nodeOpts = append(nodeOpts, nodes.WithHTTPClient(o.httpClient))
	}
	if o.scriptConfig != nil {
		evaluator, err := script.NewEvaluator(*o.scriptConfig, o.logger)
		if err != nil {
			return nil, err
		}
		nodeOpts = append(nodeOpts, nodes.WithEvaluator(evaluator))
	}
	return nodes.New(nodeOpts...)
}

// RunID returns the identifier of this run.
func (e *Executor) RunID() string {
	return e.opts.runID
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	return State(e.state.Load())
}

// Trace returns a copy of the results collected so far.
func (e *Executor) Trace() []workflow.NodeExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]workflow.NodeExecutionResult{}, e.trace...)
}

// CurrentNodeID returns the id of the node that started most recently.
func (e *Executor) CurrentNodeID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentNode
}

// Variables returns a copy of the variable scope.
func (e *Executor) Variables() map[string]interface{} {
	return e.ec.Variables()
}

// Execute runs the graph and returns the trace. On failure the partial trace
// is returned together with the error.
func (e *Executor) Execute(ctx context.Context) ([]workflow.NodeExecutionResult, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyExecuted
	}

	start := time.Now()
	ctx, span := e.opts.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("weaver.run_id", e.opts.runID),
		attribute.Int("weaver.node_count", len(e.nodes)),
	))
	defer span.End()

	err := e.run(ctx)

	status := workflow.ExecutionStatusCompleted
	if err != nil {
		status = workflow.ExecutionStatusFailed
		e.state.Store(int32(StateFailed))
		span.RecordError(err)
		span.SetStatus(codes.Error, weavererrors.Message(err))
		e.opts.logger.Warn("workflow run failed", zap.Error(err))
	} else {
		e.state.Store(int32(StateCompleted))
		span.SetStatus(codes.Ok, "")
		e.opts.logger.Info("workflow run completed", zap.Int("results", len(e.trace)))
	}
	e.opts.metrics.RecordRun(status, time.Since(start))

	return e.Trace(), err
}

func (e *Executor) run(ctx context.Context) error {
	var triggers []workflow.Node
	for _, n := range e.nodes {
		if n.Type.IsTrigger() {
			triggers = append(triggers, n)
		}
	}
	if len(triggers) == 0 {
		return weavererrors.NewNoTriggerError()
	}

	for _, t := range triggers {
		if err := e.executeNode(ctx, t, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeNode(ctx context.Context, node workflow.Node, input interface{}) error {
	logger := e.opts.logger.With(zap.String("node_id", node.ID), zap.String("node_type", string(node.Type)))

	e.mu.Lock()
	e.currentNode = node.ID
	e.mu.Unlock()
	e.notifyStarted(node.ID)

	ctx, span := e.opts.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("weaver.node_id", node.ID),
		attribute.String("weaver.node_type", string(node.Type)),
	))

	start := time.Now()
	output, err := e.invoke(ctx, node, input)
	e.opts.metrics.RecordNode(node.Type, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, weavererrors.Message(err))
		span.End()
		logger.Debug("node failed", zap.Error(err))

		e.complete(workflow.NodeExecutionResult{
			NodeID:    node.ID,
			Output:    nil,
			Error:     weavererrors.Message(err),
			Timestamp: e.timestamp(),
		})
		return err
	}
	span.End()
	logger.Debug("node completed")

	e.ec.RecordResult(node.ID, output)
	e.complete(workflow.NodeExecutionResult{
		NodeID:    node.ID,
		Output:    output,
		Timestamp: e.timestamp(),
	})

	for _, next := range e.successors(node, output, logger) {
		if err := e.executeNode(ctx, next, output); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) invoke(ctx context.Context, node workflow.Node, input interface{}) (interface{}, error) {
	if e.opts.delay > 0 {
		timer := time.NewTimer(e.opts.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return e.ops.Execute(ctx, node, input, e.ec)
}

// successors returns the targets of node's outgoing connections in
// connection order. Connections to missing nodes are skipped.
func (e *Executor) successors(node workflow.Node, output interface{}, logger *zap.Logger) []workflow.Node {
	branch, isBranch := "", false
	if e.opts.branching && node.Type == workflow.NodeTypeCondition {
		branch, isBranch = nodes.BranchOf(output)
	}

	var next []workflow.Node
	for _, conn := range e.connections {
		if conn.SourceID != node.ID {
			continue
		}
		if isBranch && isBranchPort(conn.SourceOutput) && conn.SourceOutput != branch {
			e.opts.metrics.RecordSkipped()
			logger.Debug("branch not taken", zap.String("target_id", conn.TargetID), zap.String("port", conn.SourceOutput))
			continue
		}
		target, ok := e.byID[conn.TargetID]
		if !ok {
			logger.Debug("connection target missing", zap.String("target_id", conn.TargetID))
			continue
		}
		next = append(next, target)
	}
	return next
}

func isBranchPort(port string) bool {
	return port == "true" || port == "false"
}

func (e *Executor) complete(result workflow.NodeExecutionResult) {
	e.mu.Lock()
	e.trace = append(e.trace, result)
	e.mu.Unlock()

	if e.onCompleted != nil {
		e.onCompleted(result)
	}
	for _, obs := range e.opts.observers {
		if obs.NodeCompleted != nil {
			obs.NodeCompleted(result)
		}
	}
}

func (e *Executor) notifyStarted(nodeID string) {
	if e.onStarted != nil {
		e.onStarted(nodeID)
	}
	for _, obs := range e.opts.observers {
		if obs.NodeStarted != nil {
			obs.NodeStarted(nodeID)
		}
	}
}

func (e *Executor) timestamp() string {
	return e.opts.now().UTC().Format(nodes.TimestampLayout)
}
