// Package archive stores the records of finished workflow runs.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = weavererrors.ErrNotFound

// SaveTimeout bounds a SaveDetached call.
const SaveTimeout = 30 * time.Second

// Store persists WorkflowExecution records.
type Store interface {
	// Save creates or replaces a record.
	Save(ctx context.Context, record *workflow.WorkflowExecution) error

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, workflowID, executionID string) (*workflow.WorkflowExecution, error)

	// List returns the records of a workflow, newest first.
	List(ctx context.Context, workflowID string) ([]*workflow.WorkflowExecution, error)
}

// SaveDetached saves record on a context that keeps the values of ctx but
// not its cancellation or deadline, bounded by SaveTimeout. The record of a
// run is kept even when the caller that started the run has gone away or
// ran out of time.
func SaveDetached(ctx context.Context, store Store, record *workflow.WorkflowExecution) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SaveTimeout)
	defer cancel()
	return store.Save(saveCtx, record)
}

func validate(record *workflow.WorkflowExecution) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.ID == "" {
		return errors.New("record id cannot be empty")
	}
	if record.WorkflowID == "" {
		return errors.New("record workflow id cannot be empty")
	}
	return nil
}

func notFound(workflowID, executionID string) error {
	return fmt.Errorf("execution %s of workflow %s: %w", executionID, workflowID, ErrNotFound)
}

// sortNewestFirst orders records by start time, then id, descending.
// Start times share one fixed-width UTC layout, so string order is time order.
func sortNewestFirst(records []*workflow.WorkflowExecution) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartedAt != records[j].StartedAt {
			return records[i].StartedAt > records[j].StartedAt
		}
		return records[i].ID > records[j].ID
	})
}

// BlobPath returns the object path of a record in blob storage.
func BlobPath(workflowID, executionID string) string {
	return fmt.Sprintf("executions/%s/%s.json", workflowID, executionID)
}
