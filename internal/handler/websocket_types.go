// internal/handler/websocket_types.go
package handler

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nori-bridge/internal/protocol/nori"
)

// Host message types
const (
	MessageRemoteData  = "remote_data"
	MessageSensorData  = "sensor_data"
	MessageBridgeEvent = "bridge_event"
	MessageStatus      = "status"
	MessageGetStatus   = "get_status"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageError       = "error"
)

// Client represents a host WebSocket client
type Client struct {
	ID          string
	Connection  *websocket.Conn
	Send        chan []byte
	UserAgent   string
	RemoteAddr  string
	ConnectedAt time.Time
	Limiter     *RateLimiter
}

// WebSocketMessage is an outbound host message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// inboundMessage is a host message whose data is decoded per type
type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// RemoteData carries the host's pending requests, keyed by device kind for
// GET and by port for SET
type RemoteData struct {
	GET nori.RequestSet `json:"GET"`
	SET nori.RequestSet `json:"SET"`
}

// ConnectionManager tracks connected host clients
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

// Unregister removes a client and closes its send channel
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Send queues a message for a registered client. It reports false when the
// client's buffer is full; messages to unregistered clients are discarded.
func (cm *ConnectionManager) Send(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return true
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// Count returns the number of connected clients
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.clients)
}

// Each calls fn for every client while holding the read lock
func (cm *ConnectionManager) Each(fn func(*Client)) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for _, client := range cm.clients {
		fn(client)
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		Clients:          make([]ClientInfo, 0, len(cm.clients)),
	}
	for _, client := range cm.clients {
		info := ClientInfo{
			ID:          client.ID,
			UserAgent:   client.UserAgent,
			RemoteAddr:  client.RemoteAddr,
			ConnectedAt: client.ConnectedAt,
		}
		if client.Limiter != nil {
			limits := client.Limiter.Stats()
			info.RateLimit = &limits
		}
		stats.Clients = append(stats.Clients, info)
	}
	slices.SortFunc(stats.Clients, func(a, b ClientInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int          `json:"total_connections"`
	Clients          []ClientInfo `json:"clients"`
}

// ClientInfo describes one connected host client
type ClientInfo struct {
	ID          string            `json:"id"`
	UserAgent   string            `json:"user_agent"`
	RemoteAddr  string            `json:"remote_addr"`
	ConnectedAt time.Time         `json:"connected_at"`
	RateLimit   *RateLimiterStats `json:"rate_limit,omitempty"`
}
