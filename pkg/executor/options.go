package executor

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/nodes"
	"github.com/wehubfusion/Weaver/pkg/script"
)

// DefaultNodeDelay is the pause imposed before every node body runs.
const DefaultNodeDelay = 500 * time.Millisecond

type options struct {
	delay        time.Duration
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      MetricsCollector
	httpClient   *http.Client
	scriptConfig *script.Config
	operations   *nodes.Operations
	branching    bool
	now          func() time.Time
	runID        string
	observers    []Observer
}

// Option configures an Executor.
type Option func(*options)

// WithNodeDelay sets the pause before each node. Zero disables it.
func WithNodeDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithHTTPClient sets the client used by HTTP nodes. Ignored when
// WithOperations is given.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithScriptConfig sets the evaluator configuration used by condition and
// code nodes. Ignored when WithOperations is given.
func WithScriptConfig(cfg script.Config) Option {
	return func(o *options) {
		o.scriptConfig = &cfg
	}
}

// WithOperations shares a prebuilt operation set between executors.
func WithOperations(ops *nodes.Operations) Option {
	return func(o *options) {
		o.operations = ops
	}
}

// WithConditionalBranching makes condition nodes follow only the
// connections whose source output matches the evaluated branch. Connections
// without a source output are always followed.
func WithConditionalBranching() Option {
	return func(o *options) {
		o.branching = true
	}
}

// WithClock sets the time source for trace timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID sets the identifier of the run. A UUID is generated otherwise.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithObserver registers additional lifecycle callbacks.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}
