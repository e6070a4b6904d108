package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream defaults for queued run requests.
const (
	DefaultStreamName = "WEAVER_RUNS"
	DefaultSubject    = "weaver.runs"
	DefaultDurable    = "weaver-worker"
)

// SourceConfig names the stream, subject and durable consumer requests are
// pulled from.
type SourceConfig struct {
	StreamName string
	Subject    string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
}

func (c *SourceConfig) applyDefaults() {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Durable == "" {
		c.Durable = DefaultDurable
	}
	if c.AckWait <= 0 {
		c.AckWait = 5 * time.Minute
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
}

// NATSSource pulls requests from a durable JetStream consumer.
type NATSSource struct {
	sub    *nats.Subscription
	config SourceConfig
}

// NewNATSSource ensures the work-queue stream exists and binds a pull
// subscription to it.
func NewNATSSource(js nats.JetStreamContext, config SourceConfig, logger *zap.Logger) (*NATSSource, error) {
	if js == nil {
		return nil, errors.New("jetstream context cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	if err := EnsureStream(js, config, logger); err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe(config.Subject, config.Durable,
		nats.BindStream(config.StreamName),
		nats.AckExplicit(),
		nats.AckWait(config.AckWait),
		nats.MaxDeliver(config.MaxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull subscription: %w", err)
	}
	return &NATSSource{sub: sub, config: config}, nil
}

// StreamManager is the part of a JetStream context EnsureStream needs.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates the work-queue stream for config unless it exists.
func EnsureStream(js StreamManager, config SourceConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	_, err := js.StreamInfo(config.StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	logger.Info("Created run request stream",
		zap.String("stream", config.StreamName),
		zap.String("subject", config.Subject))
	return nil
}

// Fetch waits up to five seconds for at most batch messages.
func (s *NATSSource) Fetch(ctx context.Context, batch int) ([]Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msgs, err := s.sub.Fetch(batch, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = natsMessage{m}
	}
	return out, nil
}

// Close removes the subscription interest. The durable consumer remains.
func (s *NATSSource) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Data() []byte { return m.msg.Data }
func (m natsMessage) Ack() error   { return m.msg.Ack() }
func (m natsMessage) Nak() error   { return m.msg.Nak() }
func (m natsMessage) Term() error  { return m.msg.Term() }

// Publisher is the part of a JetStream context a Queue needs.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Queue publishes run requests for workers to pick up.
type Queue struct {
	js      Publisher
	subject string
}

// NewQueue creates a queue publishing on subject, or DefaultSubject when
// subject is empty.
func NewQueue(js Publisher, subject string) *Queue {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Queue{js: js, subject: subject}
}

// Enqueue publishes req and waits for the stream to store it.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(q.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to enqueue run of %s: %w", req.WorkflowID, err)
	}
	return nil
}
