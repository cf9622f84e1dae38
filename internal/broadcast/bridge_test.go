package broadcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

func newTestBridge(t *testing.T) (*Bridge, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := func(token string) (*storage.APIKey, error) {
		if token != "hb_live_good" {
			return nil, errors.New("invalid key")
		}
		return &storage.APIKey{KeyID: "k-1", TenantID: "acme", KeyType: events.KeyTypeLive}, nil
	}
	b := NewBridge("http://gateway.internal", auth, testLogger(t))
	router := gin.New()
	b.RegisterRoutes(router)
	return b, router
}

func doBridge(router *gin.Engine, method, path, connectionID string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if connectionID != "" {
		req.Header.Set("connectionId", connectionID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func subscribeBody(t *testing.T, token string, channels ...string) []byte {
	t.Helper()
	raw, err := json.Marshal(apiv1.ClientStreamMessage{
		Action:   apiv1.StreamActionSubscribe,
		Channels: channels,
		Token:    token,
	})
	require.NoError(t, err)
	return raw
}

func TestBridgeConnect(t *testing.T) {
	t.Run("registers with valid token", func(t *testing.T) {
		b, router := newTestBridge(t)
		w := doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := b.lookup("conn-1")
		assert.True(t, ok)
	})

	t.Run("reconnect of a known id is a no-op", func(t *testing.T) {
		b, router := newTestBridge(t)
		doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)
		// Second connect even without a token succeeds, the id is known.
		w := doBridge(router, http.MethodPost, "/ws/connect", "conn-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := b.lookup("conn-1")
		assert.True(t, ok)
	})

	t.Run("rejects bad token", func(t *testing.T) {
		_, router := newTestBridge(t)
		w := doBridge(router, http.MethodPost, "/ws/connect?token=wrong", "conn-1", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("requires connectionId header", func(t *testing.T) {
		_, router := newTestBridge(t)
		w := doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBridgeMessageSubscribeAndDeliver(t *testing.T) {
	b, router := newTestBridge(t)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)

	w := doBridge(router, http.MethodPost, "/ws/message", "conn-1", subscribeBody(t, "", apiv1.ChannelEvents))
	assert.Equal(t, http.StatusOK, w.Code)

	b.DeliverEvent("acme", sampleEvent())
	require.Len(t, b.sends, 1)
	send := <-b.sends
	assert.Equal(t, "conn-1", send.connectionID)

	var msg apiv1.StreamMessage
	require.NoError(t, json.Unmarshal(send.data, &msg))
	assert.Equal(t, apiv1.StreamTypeEventNew, msg.Type)

	// Other tenants' events never reach the connection.
	foreign := sampleEvent(func(e *events.Event) { e.TenantID = "globex" })
	b.DeliverEvent("globex", foreign)
	assert.Empty(t, b.sends)
}

func TestBridgeDefensiveReregistration(t *testing.T) {
	// The gateway outlives a server restart: the first frame the server sees
	// is a message for a connectionId it never registered.
	b, router := newTestBridge(t)

	t.Run("token in body re-registers", func(t *testing.T) {
		w := doBridge(router, http.MethodPost, "/ws/message", "cold-conn", subscribeBody(t, "hb_live_good", apiv1.ChannelEvents, apiv1.ChannelAgents))
		assert.Equal(t, http.StatusOK, w.Code)

		conn, ok := b.lookup("cold-conn")
		require.True(t, ok)
		assert.Equal(t, "acme", conn.tenantID)
		// The subscribe in the same frame took effect.
		assert.True(t, conn.subscription().WantsEvents())
		assert.True(t, conn.subscription().WantsAgents())
	})

	t.Run("token in query re-registers", func(t *testing.T) {
		w := doBridge(router, http.MethodPost, "/ws/message?token=hb_live_good", "cold-conn-2", subscribeBody(t, "", apiv1.ChannelEvents))
		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := b.lookup("cold-conn-2")
		assert.True(t, ok)
	})

	t.Run("no token is unauthorized", func(t *testing.T) {
		w := doBridge(router, http.MethodPost, "/ws/message", "cold-conn-3", subscribeBody(t, "", apiv1.ChannelEvents))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		_, ok := b.lookup("cold-conn-3")
		assert.False(t, ok)
	})
}

func TestBridgeDisconnect(t *testing.T) {
	b, router := newTestBridge(t)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)
	doBridge(router, http.MethodPost, "/ws/message", "conn-1", subscribeBody(t, "", apiv1.ChannelEvents))

	w := doBridge(router, http.MethodPost, "/ws/disconnect", "conn-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	_, ok := b.lookup("conn-1")
	assert.False(t, ok)

	b.DeliverEvent("acme", sampleEvent())
	assert.Empty(t, b.sends)
}

func TestBridgePing(t *testing.T) {
	b, router := newTestBridge(t)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)

	raw, err := json.Marshal(apiv1.ClientStreamMessage{Action: apiv1.StreamActionPing})
	require.NoError(t, err)
	w := doBridge(router, http.MethodPost, "/ws/message", "conn-1", raw)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, b.sends, 1)
	send := <-b.sends
	var msg apiv1.StreamMessage
	require.NoError(t, json.Unmarshal(send.data, &msg))
	assert.Equal(t, apiv1.StreamTypePong, msg.Type)
}

func TestBridgeDeliverAgentMessage(t *testing.T) {
	b, router := newTestBridge(t)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-2", nil)

	// Only conn-1 turns the agents channel on.
	doBridge(router, http.MethodPost, "/ws/message", "conn-1", subscribeBody(t, "", apiv1.ChannelAgents))
	doBridge(router, http.MethodPost, "/ws/message", "conn-2", subscribeBody(t, "", apiv1.ChannelEvents))

	b.DeliverAgentMessage("acme", apiv1.StreamMessage{
		Type: apiv1.StreamTypeAgentStatusChanged,
		Data: apiv1.AgentStatusChange{AgentID: "worker-1", NewStatus: "stuck"},
	})
	require.Len(t, b.sends, 1)
	send := <-b.sends
	assert.Equal(t, "conn-1", send.connectionID)
}

func TestBridgeUnsubscribe(t *testing.T) {
	b, router := newTestBridge(t)
	doBridge(router, http.MethodPost, "/ws/connect?token=hb_live_good", "conn-1", nil)
	doBridge(router, http.MethodPost, "/ws/message", "conn-1", subscribeBody(t, "", apiv1.ChannelEvents))

	raw, err := json.Marshal(apiv1.ClientStreamMessage{Action: apiv1.StreamActionUnsubscribe})
	require.NoError(t, err)
	doBridge(router, http.MethodPost, "/ws/message", "conn-1", raw)

	b.DeliverEvent("acme", sampleEvent())
	assert.Empty(t, b.sends)
}
