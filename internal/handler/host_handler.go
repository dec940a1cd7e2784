// internal/handler/host_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nori-bridge/internal/config"
	"nori-bridge/internal/metrics"
	"nori-bridge/internal/model"
	"nori-bridge/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// HostHandler serves the host channel: hosts push their pending requests and
// receive device state as it changes
type HostHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	store       *RemoteStore
	bridge      BridgeController
	metrics     *metrics.BridgeMetrics
	security    config.SecurityConfig
	logger      *utils.ServiceLogger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHostHandler creates the host channel handler and attaches it to store.
// Events from bus are forwarded to every client.
func NewHostHandler(
	store *RemoteStore,
	bridge BridgeController,
	bus *EventBus,
	cfg *config.Config,
	m *metrics.BridgeMetrics,
	logger *zap.Logger,
) *HostHandler {
	h := &HostHandler{
		connections: NewConnectionManager(),
		store:       store,
		bridge:      bridge,
		metrics:     m,
		security:    cfg.Security,
		logger:      utils.NewServiceLogger(logger, "host-handler"),
		done:        make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	store.Attach(h)

	if bus != nil {
		go h.forwardEvents(bus.Subscribe(AllEvents))
	}
	return h
}

// RegisterRoutes registers the host channel route
func (h *HostHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/host", h.HandleHostConnection)
}

// RegisterAPIRoutes registers the host client listing
func (h *HostHandler) RegisterAPIRoutes(router *gin.RouterGroup) {
	router.GET("/host/clients", h.ListClients)
}

// Close stops event forwarding
func (h *HostHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *HostHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.security.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.security.AllowedOrigins, "*") ||
		slices.Contains(h.security.AllowedOrigins, origin)
}

// HandleHostConnection upgrades a host connection
func (h *HostHandler) HandleHostConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	if h.security.RateLimitEnabled {
		client.Limiter = NewRateLimiter(h.security.RateLimitRate, h.security.RateLimitBurst)
	}

	h.connections.Register(client)
	h.updateClientGauge()
	h.logger.Info("Host client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	if state := h.store.State(); len(state) > 0 {
		h.sendMessage(client, &WebSocketMessage{Type: MessageSensorData, Data: state, Timestamp: time.Now()})
	}

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *HostHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		h.updateClientGauge()
		client.Connection.Close()
		h.logger.Info("Host client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		if client.Limiter != nil && !client.Limiter.Allow() {
			h.countMessage("limited")
			if n := client.Limiter.RejectedCount(); n == 1 || n%100 == 0 {
				h.logger.LogRateLimitViolation(client.ID, client.RemoteAddr, n)
			}
			continue
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.countMessage("invalid")
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

func (h *HostHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *HostHandler) handleClientMessage(client *Client, message *inboundMessage) {
	switch message.Type {
	case MessageRemoteData:
		var data RemoteData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			h.countMessage("invalid")
			h.sendError(client, message.RequestID, "invalid remote data: "+err.Error())
			return
		}
		h.store.Update(data.GET, data.SET)
		h.countMessage("ok")

	case MessageGetStatus:
		h.countMessage("ok")
		if h.bridge == nil {
			h.sendError(client, message.RequestID, "status not available")
			return
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      MessageStatus,
			Data:      h.bridge.Status(),
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	case MessagePing:
		h.countMessage("ok")
		h.sendMessage(client, &WebSocketMessage{
			Type:      MessagePong,
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	default:
		h.countMessage("invalid")
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

func (h *HostHandler) forwardEvents(events <-chan *model.BridgeEvent) {
	for {
		select {
		case event := <-events:
			h.Broadcast(MessageBridgeEvent, event)
		case <-h.done:
			return
		}
	}
}

// Broadcast sends a message to every connected client
func (h *HostHandler) Broadcast(messageType string, data interface{}) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.connections.Each(func(client *Client) {
		select {
		case client.Send <- messageBytes:
		default:
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("client_id", client.ID),
			)
		}
	})
}

// ClientCount returns the number of connected clients
func (h *HostHandler) ClientCount() int {
	return h.connections.Count()
}

// GetConnectionStats returns connection statistics
func (h *HostHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// ListClients reports the connected host clients and their rate limits
func (h *HostHandler) ListClients(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Host clients retrieved", h.GetConnectionStats())
}

func (h *HostHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

func (h *HostHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      MessageError,
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func (h *HostHandler) countMessage(result string) {
	if h.metrics != nil {
		h.metrics.HostMessages.WithLabelValues(result).Inc()
	}
}

func (h *HostHandler) updateClientGauge() {
	if h.metrics != nil {
		h.metrics.HostClients.Set(float64(h.connections.Count()))
	}
}
