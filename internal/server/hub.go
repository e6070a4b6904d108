package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/events"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type (
	// SubscribeRequest narrows the events a client receives. Empty fields
	// match everything.
	SubscribeRequest struct {
		Type string       `json:"type"`
		Data Subscription `json:"data"`
	}

	// Subscription selects events by workflow and run
	Subscription struct {
		WorkflowID string `json:"workflow_id,omitempty"`
		RunID      string `json:"run_id,omitempty"`
	}

	// Hub fans lifecycle events out to connected websocket clients
	Hub struct {
		logger  *zap.Logger
		mu      sync.RWMutex
		clients map[*Client]struct{}
	}

	// Client is one websocket connection
	Client struct {
		hub  *Hub
		conn *websocket.Conn
		send chan events.Event

		mu     sync.RWMutex
		filter Subscription

		writeMu sync.Mutex

		closeOnce sync.Once
	}
)

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: map[*Client]struct{}{},
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues event for every client whose subscription matches. A
// client whose buffer is full is disconnected rather than blocking the run.
func (h *Hub) Broadcast(event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.matches(event) {
			continue
		}
		select {
		case c.send <- event:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client")
		c.Close()
	}
}

// Observer returns executor callbacks that broadcast the lifecycle of one run
func (h *Hub) Observer(workflowID, runID string) executor.Observer {
	return executor.Observer{
		NodeStarted: func(nodeID string) {
			h.Broadcast(events.Event{
				Kind: events.KindNodeStarted, RunID: runID, WorkflowID: workflowID, NodeID: nodeID,
			})
		},
		NodeCompleted: func(result workflow.NodeExecutionResult) {
			h.Broadcast(events.Event{
				Kind: events.KindNodeCompleted, RunID: runID, WorkflowID: workflowID, NodeID: result.NodeID, Result: &result,
			})
		},
		RunCompleted: func(record *workflow.WorkflowExecution) {
			h.Broadcast(events.Event{
				Kind: events.KindRunCompleted, RunID: runID, WorkflowID: workflowID, Execution: record,
			})
		},
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan events.Event, sendBufferSize),
		filter: Subscription{
			WorkflowID: c.Query("workflow_id"),
			RunID:      c.Query("run_id"),
		},
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// Close unregisters the client and closes its connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		close(c.send)
	})
}

func (c *Client) matches(event events.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter.WorkflowID != "" && c.filter.WorkflowID != event.WorkflowID {
		return false
	}
	return c.filter.RunID == "" || c.filter.RunID == event.RunID
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleSubscribe(message)
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Debug("Failed to parse WebSocket message", zap.Error(err))
		return
	}
	if sub.Type != "subscribe" {
		return
	}

	c.mu.Lock()
	c.filter = sub.Data
	c.mu.Unlock()

	_ = c.writeJSON(gin.H{"type": "subscribed", "data": sub.Data})
}

// writeJSON serialises writes; the connection allows one writer at a time.
func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) writeControl(messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, nil)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				_ = c.writeControl(websocket.CloseMessage)
				return
			}
			if err := c.writeJSON(event); err != nil {
				c.hub.logger.Debug("WebSocket write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage); err != nil {
				c.Close()
				return
			}
		}
	}
}
