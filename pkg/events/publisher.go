// Package events publishes execution lifecycle events to NATS JetStream.
//
// Subjects have the form <prefix>.<runId>.<kind>. Publishing is best effort:
// a failed publish is retried, then logged, and never fails the run that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindNodeStarted   Kind = "node.started"
	KindNodeCompleted Kind = "node.completed"
	KindRunCompleted  Kind = "run.completed"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "weaver.executions"

// DefaultStream is the JetStream stream that captures lifecycle events.
const DefaultStream = "WEAVER_EXECUTIONS"

// Event is the JSON payload of a lifecycle message.
type Event struct {
	Kind       Kind                          `json:"kind"`
	RunID      string                        `json:"run_id"`
	WorkflowID string                        `json:"workflow_id,omitempty"`
	NodeID     string                        `json:"node_id,omitempty"`
	Result     *workflow.NodeExecutionResult `json:"result,omitempty"`
	Execution  *workflow.WorkflowExecution   `json:"execution,omitempty"`
	Timestamp  time.Time                     `json:"timestamp"`
}

// JSContext defines the subset of JetStream operations the publisher
// depends on. Tests provide an in-memory implementation.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
}

// WrapNATSJetStream adapts a nats.JetStreamContext to the JSContext interface.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subj, data, opts...)
}

func (a *natsJSAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

// Config configures a Publisher.
type Config struct {
	// SubjectPrefix is prepended to every subject
	SubjectPrefix string

	// Stream is the JetStream stream bound to SubjectPrefix.>
	Stream string

	// PublishMaxRetries is the number of retries after a failed publish
	PublishMaxRetries int

	// RetryDelay is the pause between publish attempts
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.PublishMaxRetries < 0 {
		c.PublishMaxRetries = 0
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
}

// Publisher sends lifecycle events to JetStream.
type Publisher struct {
	js     JSContext
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(js JSContext, config Config, logger *zap.Logger) (*Publisher, error) {
	if js == nil {
		return nil, errors.New("jetstream context cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()
	return &Publisher{js: js, config: config, logger: logger, now: time.Now}, nil
}

// EnsureStream creates the event stream if it does not exist.
func (p *Publisher) EnsureStream() error {
	_, err := p.js.StreamInfo(p.config.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", p.config.Stream, err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     p.config.Stream,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", p.config.Stream, err)
	}
	p.logger.Info("created event stream",
		zap.String("stream", p.config.Stream),
		zap.String("subjects", p.config.SubjectPrefix+".>"))
	return nil
}

// Subject returns the subject events of kind for runID are published on.
func (p *Publisher) Subject(runID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, runID, kind)
}

// Publish sends one event, retrying failed attempts.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.RunID == "" {
		return errors.New("event run id cannot be empty")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.RunID, event.Kind)
	var lastErr error
	for attempt := 0; attempt <= p.config.PublishMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}
		if _, lastErr = p.js.Publish(subject, data, nats.Context(ctx)); lastErr == nil {
			p.logger.Debug("published event",
				zap.String("subject", subject),
				zap.String("run_id", event.RunID))
			return nil
		}
		p.logger.Warn("publish attempt failed",
			zap.String("subject", subject),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("failed to publish to %s: %w", subject, lastErr)
}

// Observer returns executor callbacks that publish the lifecycle of one run.
func (p *Publisher) Observer(ctx context.Context, workflowID, runID string) executor.Observer {
	publish := func(event Event) {
		event.RunID = runID
		event.WorkflowID = workflowID
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Error("failed to publish lifecycle event",
				zap.String("run_id", runID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err))
		}
	}
	return executor.Observer{
		NodeStarted: func(nodeID string) {
			publish(Event{Kind: KindNodeStarted, NodeID: nodeID})
		},
		NodeCompleted: func(result workflow.NodeExecutionResult) {
			publish(Event{Kind: KindNodeCompleted, NodeID: result.NodeID, Result: &result})
		},
		RunCompleted: func(record *workflow.WorkflowExecution) {
			publish(Event{Kind: KindRunCompleted, Execution: record})
		},
	}
}
