// internal/handler/websocket_types.go
package handler

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/session"
)

// Client represents a WebSocket viewer attached to one session
type Client struct {
	ID           string          `json:"id"`
	Connection   *websocket.Conn `json:"-"`
	Send         chan []byte     `json:"-"`
	SessionID    string          `json:"session_id"`
	SubscriberID string          `json:"subscriber_id"`
	UserAgent    string          `json:"user_agent"`
	RemoteAddr   string          `json:"remote_addr"`
	ConnectedAt  time.Time       `json:"connected_at"`

	quit     chan struct{}
	quitOnce sync.Once
}

// newClient creates a client with a send buffer of the given size
func newClient(id string, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		ID:          id,
		Connection:  conn,
		Send:        make(chan []byte, sendBuffer),
		ConnectedAt: time.Now(),
		quit:        make(chan struct{}),
	}
}

// Close asks the write pump to flush and close the connection. Safe to call repeatedly.
func (c *Client) Close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// WebSocketMessage represents a control message exchanged with a viewer
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// inboundMessage is a viewer request; Data is decoded per Type
type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// EventMessage is the JSON form of a session event sent to viewers
type EventMessage struct {
	Type      string                  `json:"type"`
	Seq       uint64                  `json:"seq"`
	SessionID string                  `json:"session_id"`
	Timestamp time.Time               `json:"timestamp"`
	Bytes     []int                   `json:"bytes,omitempty"`
	Hex       string                  `json:"hex,omitempty"`
	Text      *string                 `json:"text,omitempty"`
	Frame     *codec.Frame            `json:"frame,omitempty"`
	Error     string                  `json:"error,omitempty"`
	State     model.SessionState      `json:"state,omitempty"`
	Transfer  *model.TransferProgress `json:"transfer,omitempty"`
	Skipped   uint64                  `json:"skipped,omitempty"`
}

// NewEventMessage converts a session event for the wire
func NewEventMessage(ev *session.Event) *EventMessage {
	msg := &EventMessage{
		Type:      string(ev.Kind),
		Seq:       ev.Seq,
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
		Hex:       ev.Hex,
		Text:      ev.Text,
		Frame:     ev.Frame,
		Error:     ev.Error,
		State:     ev.State,
		Transfer:  ev.Transfer,
		Skipped:   ev.Skipped,
	}
	if len(ev.Data) > 0 {
		msg.Bytes = ev.Bytes()
	}
	return msg
}

// ConnectionManager tracks connected viewers
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and reports whether it was registered
func (cm *ConnectionManager) Unregister(client *Client) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	delete(cm.clients, client.ID)
	return true
}

// GetSessionClients returns clients viewing a specific session
func (cm *ConnectionManager) GetSessionClients(sessionID string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.SessionID == sessionID {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		BySession:        make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.BySession[client.SessionID]++
		stats.Clients = append(stats.Clients, client)
	}
	sort.Slice(stats.Clients, func(i, j int) bool {
		return stats.Clients[i].ConnectedAt.Before(stats.Clients[j].ConnectedAt)
	})

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	BySession        map[string]int `json:"by_session"`
	Clients          []*Client      `json:"clients"`
}
