package archive

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// MemoryStore keeps records in process memory. Records are stored as JSON so
// callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, record *workflow.WorkflowExecution) error {
	if err := validate(record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[record.WorkflowID]
	if !ok {
		byID = make(map[string][]byte)
		s.records[record.WorkflowID] = byID
	}
	byID[record.ID] = data
	return nil
}

func (s *MemoryStore) Get(_ context.Context, workflowID, executionID string) (*workflow.WorkflowExecution, error) {
	s.mu.RLock()
	data, ok := s.records[workflowID][executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(workflowID, executionID)
	}
	return decode(data)
}

func (s *MemoryStore) List(_ context.Context, workflowID string) ([]*workflow.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*workflow.WorkflowExecution, 0, len(s.records[workflowID]))
	for _, data := range s.records[workflowID] {
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func decode(data []byte) (*workflow.WorkflowExecution, error) {
	var rec workflow.WorkflowExecution
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Store = (*MemoryStore)(nil)
