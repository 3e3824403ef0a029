// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/config"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
	"serial-debugger/internal/utils"
)

// WebSocketHandler streams session events to viewers and accepts commands from them
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	connections   *ConnectionManager
	serialService *service.SerialService
	config        config.WebSocketConfig
	sendTimeout   time.Duration
	logger        *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(serialService *service.SerialService, cfg *config.Config, logger *zap.Logger) *WebSocketHandler {
	allowed := make(map[string]bool, len(cfg.Security.AllowedOrigins))
	for _, origin := range cfg.Security.AllowedOrigins {
		allowed[origin] = true
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[origin]
		},
	}

	sendTimeout := cfg.Session.ResponseTimeout
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}

	return &WebSocketHandler{
		upgrader:      upgrader,
		connections:   NewConnectionManager(),
		serialService: serialService,
		config:        cfg.WebSocket,
		sendTimeout:   sendTimeout,
		logger:        utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/sessions/:session_id", h.HandleSessionConnection)
	router.GET("/stats", h.GetStats)
}

// HandleSessionConnection attaches a viewer to a session
// @Summary Session viewer
// @Description Upgrade to a WebSocket that streams every event of the session as JSON
// @Tags WebSocket
// @Param session_id path string true "Session ID"
// @Success 101 "Switching protocols"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /ws/sessions/{session_id} [get]
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	sessionID := c.Param("session_id")

	// subscribe before upgrading so an unknown session is a plain 404
	s, sub, err := h.serialService.Subscribe(sessionID, "ws:"+c.Request.RemoteAddr)
	if err != nil {
		respondError(c, "Session not available", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		_ = h.serialService.Unsubscribe(sessionID, sub.ID)
		return
	}

	client := newClient(uuid.New().String(), conn, h.config.SendBuffer)
	client.SessionID = sessionID
	client.SubscriberID = sub.ID
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr

	h.connections.Register(client)
	h.logger.Info("Session viewer connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "subscribed",
		Data:      s.Status(),
		Timestamp: time.Now(),
	})

	go h.forwardEvents(client, sub)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// GetStats returns viewer statistics
// @Summary Viewer statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats} "Connection statistics"
// @Router /ws/stats [get]
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Connection statistics", h.GetConnectionStats())
}

// forwardEvents relays subscriber events until the subscription ends.
// It blocks on a full send buffer so the subscriber queue applies its drop policy.
func (h *WebSocketHandler) forwardEvents(client *Client, sub *session.Subscriber) {
	defer client.Close()

	for ev := range sub.Events() {
		payload, err := json.Marshal(NewEventMessage(ev))
		if err != nil {
			h.logger.Error("Failed to marshal session event", zap.Error(err))
			continue
		}
		select {
		case client.Send <- payload:
		case <-client.quit:
			return
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer h.disconnect(client)

	pongWait := h.config.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", fmt.Sprintf("invalid message: %v", err))
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	pingPeriod := h.config.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			if err := h.write(client, websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				client.Close()
				return
			}

		case <-ticker.C:
			if err := h.write(client, websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}

		case <-client.quit:
			h.flush(client)
			_ = h.write(client, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		}
	}
}

// flush writes whatever is still buffered for the client
func (h *WebSocketHandler) flush(client *Client) {
	for {
		select {
		case message := <-client.Send:
			if err := h.write(client, websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WebSocketHandler) write(client *Client, messageType int, data []byte) error {
	writeWait := h.config.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	return client.Connection.WriteMessage(messageType, data)
}

// disconnect releases the viewer's subscription; repeated calls are harmless
func (h *WebSocketHandler) disconnect(client *Client) {
	if !h.connections.Unregister(client) {
		return
	}
	client.Close()
	// the session may already be gone
	_ = h.serialService.Unsubscribe(client.SessionID, client.SubscriberID)

	h.logger.Info("Session viewer disconnected",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID),
	)
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *inboundMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "status":
		status, err := h.serialService.Status(client.SessionID)
		if err != nil {
			h.sendError(client, message.RequestID, err.Error())
			return
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      "status",
			Data:      status,
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "send":
		var payload service.SendPayload
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			h.sendError(client, message.RequestID, fmt.Sprintf("invalid send data: %v", err))
			return
		}
		req, err := payload.Request()
		if err != nil {
			h.sendError(client, message.RequestID, err.Error())
			return
		}
		go h.executeSend(client, message.RequestID, req)
	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// executeSend performs a viewer's send off the read pump
func (h *WebSocketHandler) executeSend(client *Client, requestID string, req session.SendRequest) {
	timeout := h.sendTimeout
	if req.Timeout > timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	res, err := h.serialService.Send(ctx, client.SessionID, req)
	if err != nil {
		h.sendError(client, requestID, err.Error())
		return
	}

	out := SendResponse{BytesWritten: res.BytesWritten, Hex: codec.FormatHex(res.Wire)}
	if res.Response != nil {
		out.Response = NewEventMessage(res.Response)
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      "send_result",
		Data:      out,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// sendMessage queues a control message without blocking
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
