package events

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exploopio/streamguard/pkg/logger"
)

// DefaultWriteTimeout bounds a single event write to a WebSocket client.
const DefaultWriteTimeout = 5 * time.Second

// WebSocketObserver forwards events as JSON text frames.
type WebSocketObserver struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

// NewWebSocketObserver wraps an upgraded connection.
func NewWebSocketObserver(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketObserver {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WebSocketObserver{conn: conn, writeTimeout: writeTimeout}
}

// Send writes ev to the client. gorilla connections allow one writer at a time.
func (o *WebSocketObserver) Send(ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout)); err != nil {
		return err
	}
	return o.conn.WriteJSON(ev)
}

// WebSocketHandler upgrades HTTP requests and attaches them to a Bus.
type WebSocketHandler struct {
	bus          *Bus
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       logger.Logger
}

// NewWebSocketHandler creates a handler. An empty allowedOrigins accepts
// any origin.
func NewWebSocketHandler(bus *Bus, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.OrNop(log),
	}
}

// ServeJob follows jobID until the client goes away. Incoming frames are
// read and discarded; reading is what notices the close.
func (h *WebSocketHandler) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade for job %s failed: %v", jobID, err)
		return
	}

	obs := NewWebSocketObserver(conn, h.writeTimeout)
	h.bus.Connect(jobID, obs)
	h.logger.Debug("observer connected to job %s", jobID)

	defer func() {
		h.bus.Disconnect(jobID, obs)
		_ = conn.Close()
		h.logger.Debug("observer left job %s", jobID)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket for job %s closed: %v", jobID, err)
			}
			return
		}
	}
}
