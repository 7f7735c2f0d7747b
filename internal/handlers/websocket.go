package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tool; the UI may be served from another port
	},
}

const (
	// clientSendBuffer is how many messages may queue for one client before it is dropped
	clientSendBuffer = 256
	// writeWait bounds a single write to a client
	writeWait = 10 * time.Second
)

// WSMessage is the envelope for every message sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient is one connection with its own outbound queue, drained by writePump
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// WebSocketHandler fans export progress out to connected clients.
// Broadcast never blocks on a client: a client whose queue is full is disconnected.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]*wsClient
	mu                sync.RWMutex
	status            StatusProvider
	progressThrottler *rate.Limiter // nil = every progress message is sent
	serverInstanceID  string        // Clients use it to detect a server restart
}

// NewWebSocketHandler creates the handler and subscribes it to export events.
// throttle limits how often plain progress messages are broadcast; start and finish are never dropped.
func NewWebSocketHandler(eventService interfaces.EventService, status StatusProvider, throttle time.Duration, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*wsClient),
		status:           status,
		serverInstanceID: uuid.New().String(),
	}

	if throttle > 0 {
		h.progressThrottler = rate.NewLimiter(rate.Every(throttle), 1)
	}

	if eventService != nil {
		h.subscribeToExportEvents(eventService)
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Dur("progress_throttle", throttle).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the client goes away
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
	}

	h.enqueue(client, WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"status":             h.status.Status(),
		},
	})

	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	go h.writePump(client)
	defer h.dropClient(client, "disconnected")

	// Clients never send anything meaningful; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writePump is the only writer for a client's connection
func (h *WebSocketHandler) writePump(client *wsClient) {
	for {
		select {
		case <-client.done:
			return
		case data := <-client.send:
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.dropClient(client, "write deadline failed")
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to send message to client")
				h.dropClient(client, "write failed")
				return
			}
		}
	}
}

// dropClient unregisters and closes a client; safe to call more than once
func (h *WebSocketHandler) dropClient(client *wsClient, reason string) {
	client.once.Do(func() {
		close(client.done)

		h.mu.Lock()
		delete(h.clients, client.conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		client.conn.Close()
		h.logger.Debug().Str("reason", reason).Int("clients", clientCount).Msg("WebSocket client removed")
	})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every connected client without waiting on any of them
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.offer(client, data, msg.Type)
	}
}

func (h *WebSocketHandler) enqueue(client *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	h.offer(client, data, msg.Type)
}

func (h *WebSocketHandler) offer(client *wsClient, data []byte, msgType string) {
	select {
	case <-client.done:
	case client.send <- data:
	default:
		h.logger.Warn().Str("type", msgType).Msg("WebSocket client too slow, disconnecting")
		h.dropClient(client, "send queue full")
	}
}

func (h *WebSocketHandler) subscribeToExportEvents(eventService interfaces.EventService) {
	handler := func(ctx context.Context, event interfaces.Event) error {
		progress, ok := event.Payload.(models.Progress)
		if !ok {
			return nil
		}

		// Percent-bearing progress marks a milestone and is always delivered
		if event.Type == interfaces.EventExportProgress && progress.Percent == nil &&
			h.progressThrottler != nil && !h.progressThrottler.Allow() {
			return nil
		}

		h.Broadcast(WSMessage{Type: string(event.Type), Payload: progress})
		return nil
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventExportStarted,
		interfaces.EventExportProgress,
		interfaces.EventExportFinished,
	} {
		if err := eventService.Subscribe(eventType, handler); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket handler")
		}
	}
}
