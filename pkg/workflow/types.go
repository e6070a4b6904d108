// Package workflow defines the workflow document model shared by the engine,
// the catalog and the API surface.
package workflow

import "strings"

// NodeType identifies the behaviour of a node. The set is closed: every value
// the engine understands is declared below.
type NodeType string

const (
	NodeTypeManualTrigger NodeType = "trigger-manual"
	NodeTypeHTTPRequest   NodeType = "action-http"
	NodeTypeSetVariable   NodeType = "action-set-variable"
	NodeTypeCondition     NodeType = "action-condition"
	NodeTypeCode          NodeType = "action-code"
)

const triggerPrefix = "trigger-"

// IsTrigger reports whether nodes of this type start a run.
func (t NodeType) IsTrigger() bool {
	return strings.HasPrefix(string(t), triggerPrefix)
}

// NodeTypes returns every known node type in declaration order.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeTypeManualTrigger,
		NodeTypeHTTPRequest,
		NodeTypeSetVariable,
		NodeTypeCondition,
		NodeTypeCode,
	}
}

// Position is the canvas location of a node. It never affects execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeConfig holds the user-editable configuration of a node. Its shape is
// described by the catalog entry of the node's type.
type NodeConfig map[string]interface{}

// String returns the config value under key if it is a string.
func (c NodeConfig) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Node is a single step in a workflow graph.
type Node struct {
	ID       string     `json:"id"`
	Type     NodeType   `json:"type"`
	Position Position   `json:"position"`
	Config   NodeConfig `json:"config"`
	Label    string     `json:"label,omitempty"`
}

// Connection links the output of one node to the input of another.
// SourceOutput and TargetInput name ports; the default traversal ignores them.
type Connection struct {
	ID           string `json:"id"`
	SourceID     string `json:"sourceId"`
	TargetID     string `json:"targetId"`
	SourceOutput string `json:"sourceOutput,omitempty"`
	TargetInput  string `json:"targetInput,omitempty"`
}

// Viewport is the pan/zoom state of the canvas.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// CanvasData is the graph snapshot handed to the engine.
type CanvasData struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Viewport    Viewport     `json:"viewport"`
}

// Workflow is the persisted workflow document.
type Workflow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CanvasData  CanvasData `json:"canvas_data"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// NodeExecutionResult is one entry of an execution trace.
type NodeExecutionResult struct {
	NodeID    string      `json:"nodeId"`
	Output    interface{} `json:"output"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Failed reports whether the node execution raised an error.
func (r NodeExecutionResult) Failed() bool {
	return r.Error != ""
}

// ExecutionStatus is the lifecycle state of a recorded run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionData is the trace portion of a recorded run.
type ExecutionData struct {
	Results       []NodeExecutionResult `json:"results"`
	CurrentNodeID string                `json:"currentNodeId,omitempty"`
}

// WorkflowExecution records one run of a workflow.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     string          `json:"started_at"`
	CompletedAt   string          `json:"completed_at,omitempty"`
	ExecutionData ExecutionData   `json:"execution_data"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}
