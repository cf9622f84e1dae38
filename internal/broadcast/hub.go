package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// Hub is the native in-process WebSocket backend. It tracks connected clients
// per tenant and delivers matching stream messages to each.
type Hub struct {
	clients  map[*Client]bool
	byTenant map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *logger.Logger
}

// NewHub creates the native WebSocket hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byTenant:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes client registration until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket hub started")
	defer h.log.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	tenants, ok := h.byTenant[client.tenantID]
	if !ok {
		tenants = make(map[*Client]bool)
		h.byTenant[client.tenantID] = tenants
	}
	tenants[client] = true
	h.mu.Unlock()
	h.log.Debug("Client registered",
		zap.String("client_id", client.ID),
		zap.String("tenant_id", client.tenantID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		if tenants, ok := h.byTenant[client.tenantID]; ok {
			delete(tenants, client)
			if len(tenants) == 0 {
				delete(h.byTenant, client.tenantID)
			}
		}
	}
	h.mu.Unlock()
	h.log.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.byTenant = make(map[string]map[*Client]bool)
}

// tenantClients snapshots the tenant's connections so outbound sends never
// hold the map lock.
func (h *Hub) tenantClients(tenantID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.byTenant[tenantID]))
	for c := range h.byTenant[tenantID] {
		clients = append(clients, c)
	}
	return clients
}

// DeliverEvent sends event.new to the tenant's subscriptions that match.
func (h *Hub) DeliverEvent(tenantID string, e *events.Event) {
	var data []byte
	for _, client := range h.tenantClients(tenantID) {
		if !client.Subscription().MatchesEvent(e) {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(apiv1.StreamMessage{Type: apiv1.StreamTypeEventNew, Data: e})
			if err != nil {
				h.log.Error("Failed to marshal event message", zap.Error(err))
				return
			}
		}
		client.enqueue(data)
	}
}

// DeliverAgentMessage sends an agents-channel message to the tenant's
// subscriptions with that channel on.
func (h *Hub) DeliverAgentMessage(tenantID string, msg apiv1.StreamMessage) {
	var data []byte
	for _, client := range h.tenantClients(tenantID) {
		if !client.Subscription().WantsAgents() {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(msg)
			if err != nil {
				h.log.Error("Failed to marshal agent message", zap.Error(err))
				return
			}
		}
		client.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
