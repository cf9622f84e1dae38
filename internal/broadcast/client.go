package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings with this period; a pong is expected before the next one.
	pingPeriod = 30 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = pingPeriod * 2

	// Maximum message size allowed from a subscriber.
	maxMessageSize = 64 * 1024
)

// Client is one native WebSocket subscriber connection.
type Client struct {
	ID       string
	tenantID string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte

	mu  sync.RWMutex
	sub *Subscription

	log *logger.Logger
}

// NewClient wraps an upgraded connection for an authenticated tenant.
func NewClient(id, tenantID string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:       id,
		tenantID: tenantID,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, 256),
		log:      log.WithFields(zap.String("client_id", id), zap.String("tenant_id", tenantID)),
	}
}

// Subscription returns the client's current interest set, or nil before the
// first subscribe.
func (c *Client) Subscription() *Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) setSubscription(sub *Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// enqueue hands a frame to the write pump. A full buffer drops the frame; the
// subscriber is lagging and liveness matters more than completeness here.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn("Client send buffer full, dropping message")
	}
}

// ReadPump consumes subscriber frames until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		msg, err := apiv1.DecodeClientMessage(raw)
		if err != nil {
			c.log.Debug("Invalid client message", zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *apiv1.ClientStreamMessage) {
	switch msg.Action {
	case apiv1.StreamActionSubscribe:
		c.setSubscription(NewSubscription(msg.Channels, msg.Filters))
		c.log.Debug("Client subscribed", zap.Strings("channels", msg.Channels))
	case apiv1.StreamActionUnsubscribe:
		c.setSubscription(nil)
	case apiv1.StreamActionPing:
		if data, err := json.Marshal(apiv1.StreamMessage{Type: apiv1.StreamTypePong}); err == nil {
			c.enqueue(data)
		}
	default:
		c.log.Debug("Unknown client action", zap.String("action", msg.Action))
	}
}

// WritePump drains the send buffer to the peer and emits the periodic ping.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
