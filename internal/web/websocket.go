// internal/web/websocket.go
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MessageStateChange   = "state_change"
	MessageSweepComplete = "sweep_complete"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub
}

// Hub fans state changes and sweep summaries out to websocket clients.
// A client that falls behind by more than its send buffer is dropped.
type Hub struct {
	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	collector *metrics.Collector
	closed    bool
}

func NewHub(collector *metrics.Collector) *Hub {
	return &Hub{
		clients:   make(map[*wsClient]struct{}),
		collector: collector,
	}
}

// PublishTransition is registered as an engine transition listener.
func (h *Hub) PublishTransition(tr monitoring.Transition) {
	h.Broadcast(WSMessage{Type: MessageStateChange, Data: tr})
}

// PublishSweep is registered as a sweep listener.
func (h *Hub) PublishSweep(summary monitoring.SweepSummary) {
	h.Broadcast(WSMessage{Type: MessageSweepComplete, Data: summary})
}

func (h *Hub) Broadcast(message WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			logrus.Warn("Dropping slow websocket client")
			h.removeLocked(client)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		h.removeLocked(client)
	}
}

func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	if h.collector != nil {
		h.collector.RecordWebSocketConnection(1)
	}
	return true
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

// removeLocked closes the client's send channel exactly once.
func (h *Hub) removeLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if h.collector != nil {
		h.collector.RecordWebSocketConnection(-1)
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan WSMessage, sendBuffer),
		hub:  s.hub,
	}
	if !s.hub.register(client) {
		conn.Close()
		return
	}

	logrus.WithField("client", c.ClientIP()).Debug("Websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients never send data.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
