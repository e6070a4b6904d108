package workflow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrSelfLoop is returned when a connection would link a node to itself.
	ErrSelfLoop = errors.New("connection source and target must differ")

	// ErrNodeNotFound is returned when an operation references a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when a node id is already on the canvas.
	ErrDuplicateNode = errors.New("node id already exists")
)

// NewNodeID returns a fresh node identifier.
func NewNodeID() string {
	return "node-" + uuid.NewString()
}

// NewConnectionID returns a fresh connection identifier.
func NewConnectionID() string {
	return "conn-" + uuid.NewString()
}

// NewCanvas returns an empty canvas with the default viewport.
func NewCanvas() *CanvasData {
	return &CanvasData{
		Nodes:       []Node{},
		Connections: []Connection{},
		Viewport:    Viewport{Zoom: 1},
	}
}

// Node returns the node with the given id.
func (c *CanvasData) Node(id string) (Node, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// AddNode appends a node. An empty id is replaced with a generated one and a
// nil config with an empty map.
func (c *CanvasData) AddNode(node Node) (Node, error) {
	if node.ID == "" {
		node.ID = NewNodeID()
	}
	if _, exists := c.Node(node.ID); exists {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	if node.Config == nil {
		node.Config = NodeConfig{}
	}
	c.Nodes = append(c.Nodes, node)
	return node, nil
}

// MoveNode updates the position of a node.
func (c *CanvasData) MoveNode(id string, pos Position) error {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			c.Nodes[i].Position = pos
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// UpdateNodeConfig merges values into a node's configuration.
func (c *CanvasData) UpdateNodeConfig(id string, values NodeConfig) error {
	for i := range c.Nodes {
		if c.Nodes[i].ID != id {
			continue
		}
		if c.Nodes[i].Config == nil {
			c.Nodes[i].Config = NodeConfig{}
		}
		for k, v := range values {
			c.Nodes[i].Config[k] = v
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// RemoveNode deletes a node together with every connection touching it.
func (c *CanvasData) RemoveNode(id string) error {
	idx := -1
	for i, n := range c.Nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	c.Nodes = append(c.Nodes[:idx], c.Nodes[idx+1:]...)

	kept := c.Connections[:0]
	for _, conn := range c.Connections {
		if conn.SourceID != id && conn.TargetID != id {
			kept = append(kept, conn)
		}
	}
	c.Connections = kept
	return nil
}

// Connect links source to target. Self-loops and missing endpoints are
// rejected; an existing source→target pair is returned unchanged.
func (c *CanvasData) Connect(conn Connection) (Connection, error) {
	if conn.SourceID == conn.TargetID {
		return Connection{}, ErrSelfLoop
	}
	if _, ok := c.Node(conn.SourceID); !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNodeNotFound, conn.SourceID)
	}
	if _, ok := c.Node(conn.TargetID); !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNodeNotFound, conn.TargetID)
	}
	for _, existing := range c.Connections {
		if existing.SourceID == conn.SourceID && existing.TargetID == conn.TargetID {
			return existing, nil
		}
	}
	if conn.ID == "" {
		conn.ID = NewConnectionID()
	}
	c.Connections = append(c.Connections, conn)
	return conn, nil
}

// Disconnect removes a connection by id. Unknown ids are ignored.
func (c *CanvasData) Disconnect(id string) {
	for i, conn := range c.Connections {
		if conn.ID == id {
			c.Connections = append(c.Connections[:i], c.Connections[i+1:]...)
			return
		}
	}
}

// Outgoing returns the connections leaving a node, in canvas order.
func (c *CanvasData) Outgoing(id string) []Connection {
	var out []Connection
	for _, conn := range c.Connections {
		if conn.SourceID == id {
			out = append(out, conn)
		}
	}
	return out
}
