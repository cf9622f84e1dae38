package v1

import "encoding/json"

// Streaming message types pushed to subscribers.
const (
	StreamTypeEventNew           = "event.new"
	StreamTypeAgentStatusChanged = "agent.status_changed"
	StreamTypeAgentStuck         = "agent.stuck"
	StreamTypeAgentStuckCleared  = "agent.stuck_cleared"
	StreamTypePong               = "pong"
)

// Client actions on a streaming connection.
const (
	StreamActionSubscribe   = "subscribe"
	StreamActionUnsubscribe = "unsubscribe"
	StreamActionPing        = "ping"
)

// Streaming channels a subscription can select.
const (
	ChannelEvents = "events"
	ChannelAgents = "agents"
)

// StreamMessage is a server-to-subscriber push.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// SubscriptionFilters narrow which events a subscription receives.
type SubscriptionFilters struct {
	Environment string `json:"environment,omitempty"`
	MinSeverity string `json:"min_severity,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	PayloadKind string `json:"payload_kind,omitempty"`
}

// ClientStreamMessage is what a dashboard sends over the stream (or, on the
// bridge, in the POST /ws/message body). Token is only needed when the gateway
// may have forwarded to a cold server.
type ClientStreamMessage struct {
	Action   string              `json:"action"`
	Channels []string            `json:"channels,omitempty"`
	Filters  SubscriptionFilters `json:"filters,omitempty"`
	Token    string              `json:"token,omitempty"`
}

// AgentStatusChange is the payload of agent.status_changed.
type AgentStatusChange struct {
	AgentID             string   `json:"agent_id"`
	PreviousStatus      string   `json:"previous_status"`
	NewStatus           string   `json:"new_status"`
	CurrentTaskID       *string  `json:"current_task_id,omitempty"`
	CurrentProjectID    *string  `json:"current_project_id,omitempty"`
	HeartbeatAgeSeconds *float64 `json:"heartbeat_age_seconds,omitempty"`
}

// AgentStuck is the payload of agent.stuck.
type AgentStuck struct {
	AgentID               string `json:"agent_id"`
	LastHeartbeat         string `json:"last_heartbeat"`
	StuckThresholdSeconds int    `json:"stuck_threshold_seconds"`
}

// AgentStuckCleared is the payload of agent.stuck_cleared.
type AgentStuckCleared struct {
	AgentID string `json:"agent_id"`
}

// DecodeClientMessage parses a raw client frame.
func DecodeClientMessage(raw []byte) (*ClientStreamMessage, error) {
	var msg ClientStreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
