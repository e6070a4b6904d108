package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

type fakeMessage struct {
	data []byte

	mu      sync.Mutex
	outcome string
	done    chan struct{}
}

func newFakeMessage(t *testing.T, v interface{}) *fakeMessage {
	t.Helper()
	var data []byte
	if raw, ok := v.([]byte); ok {
		data = raw
	} else {
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return &fakeMessage{data: data, done: make(chan struct{})}
}

func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack() error   { return m.settle("ack") }
func (m *fakeMessage) Nak() error   { return m.settle("nak") }
func (m *fakeMessage) Term() error  { return m.settle("term") }

func (m *fakeMessage) settle(outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome != "" {
		return errors.New("already settled")
	}
	m.outcome = outcome
	close(m.done)
	return nil
}

func (m *fakeMessage) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		t.Fatal("message was never settled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// fakeSource hands out queued messages one batch per fetch.
type fakeSource struct {
	mu      sync.Mutex
	pending []Message
	fetches int
	failN   int
}

func (s *fakeSource) push(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msgs...)
}

func (s *fakeSource) Fetch(ctx context.Context, batch int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.failN > 0 {
		s.failN--
		return nil, errors.New("fetch failed")
	}
	if batch > len(s.pending) {
		batch = len(s.pending)
	}
	out := s.pending[:batch]
	s.pending = s.pending[batch:]
	return out, nil
}

func triggerCanvas() workflow.CanvasData {
	return workflow.CanvasData{
		Nodes: []workflow.Node{
			{ID: "t", Type: workflow.NodeTypeManualTrigger},
			{ID: "c", Type: workflow.NodeTypeCode, Config: workflow.NodeConfig{"code": "return 42;"}},
		},
		Connections: []workflow.Connection{{ID: "e1", SourceID: "t", TargetID: "c"}},
	}
}

func startRunner(t *testing.T, source Source, processor Processor, workers int) context.CancelFunc {
	t.Helper()
	r, err := NewRunner(source, processor, 4, workers, time.Second, WithIdleWait(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestNewRunnerValidation(t *testing.T) {
	src := &fakeSource{}
	proc := ProcessorFunc(func(context.Context, Request) error { return nil })

	tests := []struct {
		name      string
		source    Source
		processor Processor
		batch     int
		workers   int
		timeout   time.Duration
		errMsg    string
	}{
		{"nil source", nil, proc, 1, 1, time.Second, "source cannot be nil"},
		{"nil processor", src, nil, 1, 1, time.Second, "processor cannot be nil"},
		{"zero batch", src, proc, 0, 1, time.Second, "batchSize must be greater than 0"},
		{"zero workers", src, proc, 1, 0, time.Second, "numWorkers must be greater than 0"},
		{"zero timeout", src, proc, 1, 1, 0, "processTimeout must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(tt.source, tt.processor, tt.batch, tt.workers, tt.timeout)
			assert.Nil(t, r)
			assert.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestRunnerSettlesMessages(t *testing.T) {
	src := &fakeSource{}
	proc := ProcessorFunc(func(_ context.Context, req Request) error {
		switch req.WorkflowID {
		case "flaky":
			return errors.New("store down")
		case "broken":
			return ErrRejected
		}
		return nil
	})

	ok := newFakeMessage(t, Request{WorkflowID: "wf"})
	flaky := newFakeMessage(t, Request{WorkflowID: "flaky"})
	broken := newFakeMessage(t, Request{WorkflowID: "broken"})
	garbage := newFakeMessage(t, []byte("{not json"))
	anonymous := newFakeMessage(t, Request{})
	src.push(ok, flaky, broken, garbage, anonymous)

	startRunner(t, src, proc, 2)

	assert.Equal(t, "ack", ok.wait(t))
	assert.Equal(t, "nak", flaky.wait(t))
	assert.Equal(t, "term", broken.wait(t))
	assert.Equal(t, "term", garbage.wait(t))
	assert.Equal(t, "term", anonymous.wait(t))
}

func TestRunnerProcessesConcurrently(t *testing.T) {
	src := &fakeSource{}
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	proc := ProcessorFunc(func(ctx context.Context, _ Request) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	msgs := make([]*fakeMessage, 3)
	for i := range msgs {
		msgs[i] = newFakeMessage(t, Request{WorkflowID: "wf"})
		src.push(msgs[i])
	}
	startRunner(t, src, proc, 3)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return peak == 3
	}, 2*time.Second, 5*time.Millisecond)
	close(release)

	for _, m := range msgs {
		assert.Equal(t, "ack", m.wait(t))
	}
}

func TestRunnerRecoversFromFetchErrors(t *testing.T) {
	src := &fakeSource{failN: 2}
	msg := newFakeMessage(t, Request{WorkflowID: "wf"})
	src.push(msg)

	startRunner(t, src, ProcessorFunc(func(context.Context, Request) error { return nil }), 1)

	assert.Equal(t, "ack", msg.wait(t))
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.GreaterOrEqual(t, src.fetches, 3)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r, err := NewRunner(&fakeSource{}, ProcessorFunc(func(context.Context, Request) error { return nil }), 1, 2, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestExecutorProcessorArchivesRuns(t *testing.T) {
	store := archive.NewMemoryStore()
	proc := NewExecutorProcessor(store, nil, executor.WithNodeDelay(0))

	var completed []string
	proc.AddObserver(func(_ context.Context, workflowID, runID string) executor.Observer {
		return executor.Observer{
			RunCompleted: func(record *workflow.WorkflowExecution) {
				completed = append(completed, workflowID+"/"+runID+"/"+string(record.Status))
			},
		}
	})

	ctx := context.Background()
	require.NoError(t, proc.Process(ctx, Request{WorkflowID: "wf", RunID: "r1", Canvas: triggerCanvas()}))

	record, err := store.Get(ctx, "wf", "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusCompleted, record.Status)
	require.Len(t, record.ExecutionData.Results, 2)
	assert.EqualValues(t, 42, record.ExecutionData.Results[1].Output)
	assert.Equal(t, []string{"wf/r1/completed"}, completed)

	// A redelivered request for a finished run does not execute again.
	require.NoError(t, proc.Process(ctx, Request{WorkflowID: "wf", RunID: "r1", Canvas: triggerCanvas()}))
	assert.Len(t, completed, 1)
}

func TestExecutorProcessorArchivesFailedRuns(t *testing.T) {
	store := archive.NewMemoryStore()
	proc := NewExecutorProcessor(store, nil, executor.WithNodeDelay(0))

	canvas := workflow.CanvasData{Nodes: []workflow.Node{{ID: "c", Type: workflow.NodeTypeCode}}}
	require.NoError(t, proc.Process(context.Background(), Request{WorkflowID: "wf", Canvas: canvas}))

	records, err := store.List(context.Background(), "wf")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, workflow.ExecutionStatusFailed, records[0].Status)
	assert.Equal(t, "No trigger node found in workflow", records[0].ErrorMessage)
	assert.NotEmpty(t, records[0].ID)
}

func TestExecutorProcessorArchivesRunsThatOutliveTheirDeadline(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := archive.NewRedisStore(client)

	proc := NewExecutorProcessor(store, nil, executor.WithNodeDelay(100*time.Millisecond))
	runs := 0
	proc.AddObserver(func(context.Context, string, string) executor.Observer {
		return executor.Observer{
			RunCompleted: func(*workflow.WorkflowExecution) { runs++ },
		}
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		err := proc.Process(ctx, Request{WorkflowID: "wf", RunID: "r1", Canvas: triggerCanvas()})
		cancel()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, runs)

	record, err := store.Get(context.Background(), "wf", "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusFailed, record.Status)
	assert.NotEmpty(t, record.ErrorMessage)
}

type failingStore struct {
	archive.Store
}

func (failingStore) Save(context.Context, *workflow.WorkflowExecution) error {
	return errors.New("disk full")
}

func TestExecutorProcessorReportsArchiveFailure(t *testing.T) {
	proc := NewExecutorProcessor(failingStore{archive.NewMemoryStore()}, nil, executor.WithNodeDelay(0))
	err := proc.Process(context.Background(), Request{WorkflowID: "wf", Canvas: triggerCanvas()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "disk full")
}

func TestEncode(t *testing.T) {
	data, err := Encode(Request{WorkflowID: "wf", RunID: "r", Canvas: triggerCanvas()})
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "wf", decoded.WorkflowID)
	assert.Len(t, decoded.Canvas.Nodes, 2)
}
