package executor

import "github.com/wehubfusion/Weaver/pkg/workflow"

// Observer bundles lifecycle callbacks. Nil fields are skipped.
type Observer struct {
	NodeStarted   NodeStartedFunc
	NodeCompleted NodeCompletedFunc
	RunCompleted  func(record *workflow.WorkflowExecution)
}

// Combine returns an observer that calls each of observers in order.
func Combine(observers ...Observer) Observer {
	return Observer{
		NodeStarted: func(nodeID string) {
			for _, o := range observers {
				if o.NodeStarted != nil {
					o.NodeStarted(nodeID)
				}
			}
		},
		NodeCompleted: func(result workflow.NodeExecutionResult) {
			for _, o := range observers {
				if o.NodeCompleted != nil {
					o.NodeCompleted(result)
				}
			}
		},
		RunCompleted: func(record *workflow.WorkflowExecution) {
			for _, o := range observers {
				if o.RunCompleted != nil {
					o.RunCompleted(record)
				}
			}
		},
	}
}
