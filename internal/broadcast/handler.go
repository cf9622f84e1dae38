package broadcast

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards connect cross-origin in local mode; production runs
		// behind the gateway bridge instead of this handler.
		return true
	},
}

// TokenAuthFunc resolves a raw streaming token to its API key.
type TokenAuthFunc func(token string) (*storage.APIKey, error)

// StreamHandler serves WS /v1/stream for the native backend.
type StreamHandler struct {
	hub  *Hub
	auth TokenAuthFunc
	log  *logger.Logger
}

// NewStreamHandler creates the native streaming handler.
func NewStreamHandler(hub *Hub, auth TokenAuthFunc, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub:  hub,
		auth: auth,
		log:  log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection authenticates the token, upgrades to WebSocket, and runs
// the client pumps.
func (h *StreamHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, apiv1.ErrorResponse{
			Error:   "unauthorized",
			Message: "missing token",
			Status:  http.StatusUnauthorized,
		})
		return
	}
	key, err := h.auth(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apiv1.ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid token",
			Status:  http.StatusUnauthorized,
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.log.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("tenant_id", key.TenantID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, key.TenantID, conn, h.hub, h.log)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
