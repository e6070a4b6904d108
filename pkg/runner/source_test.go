package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJetStream struct {
	streams   map[string]*nats.StreamConfig
	infoErr   error
	published map[string][][]byte
	pubErr    error
}

func newFakeJetStream() *fakeJetStream {
	return &fakeJetStream{
		streams:   make(map[string]*nats.StreamConfig),
		published: make(map[string][][]byte),
	}
}

func (f *fakeJetStream) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.published[subj] = append(f.published[subj], data)
	return &nats.PubAck{Stream: DefaultStreamName}, nil
}

func TestEnsureStreamCreatesWorkQueue(t *testing.T) {
	js := newFakeJetStream()
	require.NoError(t, EnsureStream(js, SourceConfig{}, nil))

	cfg, ok := js.streams[DefaultStreamName]
	require.True(t, ok)
	assert.Equal(t, []string{DefaultSubject}, cfg.Subjects)
	assert.Equal(t, nats.WorkQueuePolicy, cfg.Retention)

	// Existing streams are left alone.
	cfg.Subjects = []string{"custom"}
	require.NoError(t, EnsureStream(js, SourceConfig{}, nil))
	assert.Equal(t, []string{"custom"}, js.streams[DefaultStreamName].Subjects)
}

func TestEnsureStreamPropagatesLookupErrors(t *testing.T) {
	js := newFakeJetStream()
	js.infoErr = errors.New("jetstream not enabled")
	err := EnsureStream(js, SourceConfig{StreamName: "RUNS"}, nil)
	assert.ErrorContains(t, err, "jetstream not enabled")
	assert.Empty(t, js.streams)
}

func TestQueueEnqueue(t *testing.T) {
	js := newFakeJetStream()
	q := NewQueue(js, "")
	require.NoError(t, q.Enqueue(context.Background(), Request{WorkflowID: "wf", RunID: "r1", Canvas: triggerCanvas()}))

	require.Len(t, js.published[DefaultSubject], 1)
	var req Request
	require.NoError(t, json.Unmarshal(js.published[DefaultSubject][0], &req))
	assert.Equal(t, "r1", req.RunID)

	js.pubErr = nats.ErrNoResponders
	err := q.Enqueue(context.Background(), Request{WorkflowID: "wf"})
	assert.ErrorIs(t, err, nats.ErrNoResponders)
}

func TestSourceConfigDefaults(t *testing.T) {
	var cfg SourceConfig
	cfg.applyDefaults()
	assert.Equal(t, DefaultStreamName, cfg.StreamName)
	assert.Equal(t, DefaultSubject, cfg.Subject)
	assert.Equal(t, DefaultDurable, cfg.Durable)
	assert.Equal(t, 5, cfg.MaxDeliver)
	assert.Positive(t, cfg.AckWait)
}
