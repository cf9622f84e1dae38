package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

const (
	// The gateway management API enforces a 29 s timeout on callbacks.
	bridgeRequestTimeout = 29 * time.Second

	bridgeWorkers   = 8
	bridgeQueueSize = 1024
)

// bridgeConn is one registered gateway connection.
type bridgeConn struct {
	connectionID string
	tenantID     string
	keyID        string

	mu  sync.RWMutex
	sub *Subscription
}

func (c *bridgeConn) subscription() *Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *bridgeConn) setSubscription(sub *Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

type bridgeSend struct {
	connectionID string
	data         []byte
}

// Bridge is the HTTP backend for an external WebSocket gateway. The gateway
// terminates the sockets and calls back over HTTP for connect, disconnect, and
// client messages; outbound frames go to the gateway's management API.
type Bridge struct {
	endpoint string
	auth     TokenAuthFunc
	client   *http.Client
	log      *logger.Logger

	mu       sync.RWMutex
	conns    map[string]*bridgeConn
	byTenant map[string]map[string]bool

	// Outbound sends run on a bounded worker pool so a slow gateway cannot
	// stall ingestion. Overflow drops the frame and counts it.
	sends   chan bridgeSend
	dropped atomic.Int64
}

// NewBridge creates the gateway bridge backend.
func NewBridge(endpoint string, auth TokenAuthFunc, log *logger.Logger) *Bridge {
	return &Bridge{
		endpoint: endpoint,
		auth:     auth,
		client:   &http.Client{Timeout: bridgeRequestTimeout},
		log:      log.WithFields(zap.String("component", "ws_bridge")),
		conns:    make(map[string]*bridgeConn),
		byTenant: make(map[string]map[string]bool),
		sends:    make(chan bridgeSend, bridgeQueueSize),
	}
}

// Start launches the outbound worker pool.
func (b *Bridge) Start(ctx context.Context) {
	for i := 0; i < bridgeWorkers; i++ {
		go b.worker(ctx)
	}
}

func (b *Bridge) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case send := <-b.sends:
			b.post(ctx, send)
		}
	}
}

// DroppedSends reports frames dropped because the outbound queue was full.
func (b *Bridge) DroppedSends() int64 { return b.dropped.Load() }

// RegisterRoutes mounts the gateway callback endpoints.
func (b *Bridge) RegisterRoutes(r gin.IRouter) {
	r.POST("/ws/connect", b.HandleConnect)
	r.POST("/ws/disconnect", b.HandleDisconnect)
	r.POST("/ws/message", b.HandleMessage)
}

// HandleConnect authenticates ?token= and registers the connectionId.
func (b *Bridge) HandleConnect(c *gin.Context) {
	connectionID := c.GetHeader("connectionId")
	if connectionID == "" {
		badRequest(c, "missing connectionId header")
		return
	}
	if _, ok := b.lookup(connectionID); ok {
		c.Status(http.StatusOK)
		return
	}
	if !b.registerWithToken(connectionID, c.Query("token")) {
		c.JSON(http.StatusUnauthorized, apiv1.ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid token",
			Status:  http.StatusUnauthorized,
		})
		return
	}
	c.Status(http.StatusOK)
}

// HandleDisconnect unregisters the connectionId.
func (b *Bridge) HandleDisconnect(c *gin.Context) {
	connectionID := c.GetHeader("connectionId")
	if connectionID == "" {
		badRequest(c, "missing connectionId header")
		return
	}
	b.unregister(connectionID)
	c.Status(http.StatusOK)
}

// HandleMessage dispatches a client frame forwarded by the gateway. If the
// connectionId is unknown (the gateway may outlive a server restart) and the
// body carries a token, the connection is re-registered first.
func (b *Bridge) HandleMessage(c *gin.Context) {
	connectionID := c.GetHeader("connectionId")
	if connectionID == "" {
		badRequest(c, "missing connectionId header")
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	msg, err := apiv1.DecodeClientMessage(raw)
	if err != nil {
		badRequest(c, "invalid message")
		return
	}

	conn, ok := b.lookup(connectionID)
	if !ok {
		token := msg.Token
		if token == "" {
			token = c.Query("token")
		}
		if !b.registerWithToken(connectionID, token) {
			c.JSON(http.StatusUnauthorized, apiv1.ErrorResponse{
				Error:   "unauthorized",
				Message: "unknown connection and no valid token",
				Status:  http.StatusUnauthorized,
			})
			return
		}
		conn, _ = b.lookup(connectionID)
	}

	switch msg.Action {
	case apiv1.StreamActionSubscribe:
		conn.setSubscription(NewSubscription(msg.Channels, msg.Filters))
	case apiv1.StreamActionUnsubscribe:
		conn.setSubscription(nil)
	case apiv1.StreamActionPing:
		if data, err := json.Marshal(apiv1.StreamMessage{Type: apiv1.StreamTypePong}); err == nil {
			b.enqueue(connectionID, data)
		}
	}
	c.Status(http.StatusOK)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apiv1.ErrorResponse{
		Error:   "bad_request",
		Message: message,
		Status:  http.StatusBadRequest,
	})
}

func (b *Bridge) registerWithToken(connectionID, token string) bool {
	if token == "" {
		return false
	}
	key, err := b.auth(token)
	if err != nil {
		return false
	}
	b.mu.Lock()
	b.conns[connectionID] = &bridgeConn{
		connectionID: connectionID,
		tenantID:     key.TenantID,
		keyID:        key.KeyID,
	}
	tenants, ok := b.byTenant[key.TenantID]
	if !ok {
		tenants = make(map[string]bool)
		b.byTenant[key.TenantID] = tenants
	}
	tenants[connectionID] = true
	b.mu.Unlock()
	b.log.Debug("Bridge connection registered",
		zap.String("connection_id", connectionID),
		zap.String("tenant_id", key.TenantID))
	return true
}

func (b *Bridge) lookup(connectionID string) (*bridgeConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[connectionID]
	return conn, ok
}

func (b *Bridge) unregister(connectionID string) {
	b.mu.Lock()
	if conn, ok := b.conns[connectionID]; ok {
		delete(b.conns, connectionID)
		if tenants, ok := b.byTenant[conn.tenantID]; ok {
			delete(tenants, connectionID)
			if len(tenants) == 0 {
				delete(b.byTenant, conn.tenantID)
			}
		}
	}
	b.mu.Unlock()
	b.log.Debug("Bridge connection unregistered", zap.String("connection_id", connectionID))
}

func (b *Bridge) tenantConns(tenantID string) []*bridgeConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conns := make([]*bridgeConn, 0, len(b.byTenant[tenantID]))
	for id := range b.byTenant[tenantID] {
		if conn, ok := b.conns[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// DeliverEvent sends event.new to the tenant's matching connections.
func (b *Bridge) DeliverEvent(tenantID string, e *events.Event) {
	var data []byte
	for _, conn := range b.tenantConns(tenantID) {
		if !conn.subscription().MatchesEvent(e) {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(apiv1.StreamMessage{Type: apiv1.StreamTypeEventNew, Data: e})
			if err != nil {
				b.log.Error("Failed to marshal event message", zap.Error(err))
				return
			}
		}
		b.enqueue(conn.connectionID, data)
	}
}

// DeliverAgentMessage sends an agents-channel message to the tenant's
// connections with that channel on.
func (b *Bridge) DeliverAgentMessage(tenantID string, msg apiv1.StreamMessage) {
	var data []byte
	for _, conn := range b.tenantConns(tenantID) {
		if !conn.subscription().WantsAgents() {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(msg)
			if err != nil {
				b.log.Error("Failed to marshal agent message", zap.Error(err))
				return
			}
		}
		b.enqueue(conn.connectionID, data)
	}
}

func (b *Bridge) enqueue(connectionID string, data []byte) {
	select {
	case b.sends <- bridgeSend{connectionID: connectionID, data: data}:
	default:
		b.dropped.Add(1)
		b.log.Warn("Bridge send queue full, dropping message",
			zap.String("connection_id", connectionID),
			zap.Int64("dropped_total", b.dropped.Load()))
	}
}

// post delivers one frame through the gateway management API. A gone
// connection is unregistered.
func (b *Bridge) post(ctx context.Context, send bridgeSend) {
	url := b.endpoint + "/@connections/" + send.connectionID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(send.data))
	if err != nil {
		b.log.Error("Failed to build gateway request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Warn("Gateway send failed",
			zap.String("connection_id", send.connectionID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusGone {
		b.unregister(send.connectionID)
	} else if resp.StatusCode >= 400 {
		b.log.Warn("Gateway send rejected",
			zap.String("connection_id", send.connectionID),
			zap.Int("status", resp.StatusCode))
	}
}
