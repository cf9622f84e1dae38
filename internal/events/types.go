// Package events defines the canonical event model for HiveBoard.
//
// Every observable fact an agent reports is an Event. Agent status, task
// timelines, action trees, plans and pipeline views are all derived from the
// event stream; nothing else is a source of truth.
package events

import "time"

// EventType is the structural kind of an event.
type EventType string

const (
	EventTypeAgentRegistered   EventType = "agent_registered"
	EventTypeHeartbeat         EventType = "heartbeat"
	EventTypeTaskStarted       EventType = "task_started"
	EventTypeTaskCompleted     EventType = "task_completed"
	EventTypeTaskFailed        EventType = "task_failed"
	EventTypeActionStarted     EventType = "action_started"
	EventTypeActionCompleted   EventType = "action_completed"
	EventTypeActionFailed      EventType = "action_failed"
	EventTypeRetryStarted      EventType = "retry_started"
	EventTypeEscalated         EventType = "escalated"
	EventTypeApprovalRequested EventType = "approval_requested"
	EventTypeApprovalReceived  EventType = "approval_received"
	EventTypeCustom            EventType = "custom"
)

// AllEventTypes is the set of valid event types.
var AllEventTypes = map[EventType]bool{
	EventTypeAgentRegistered:   true,
	EventTypeHeartbeat:         true,
	EventTypeTaskStarted:       true,
	EventTypeTaskCompleted:     true,
	EventTypeTaskFailed:        true,
	EventTypeActionStarted:     true,
	EventTypeActionCompleted:   true,
	EventTypeActionFailed:      true,
	EventTypeRetryStarted:      true,
	EventTypeEscalated:         true,
	EventTypeApprovalRequested: true,
	EventTypeApprovalReceived:  true,
	EventTypeCustom:            true,
}

// Valid reports whether t is one of the canonical event types.
func (t EventType) Valid() bool { return AllEventTypes[t] }

// Severity is the event severity level.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// severityRank orders severities for min_severity subscription filters.
var severityRank = map[Severity]int{
	SeverityDebug: 0,
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityError: 3,
}

// SeverityRank returns the numeric rank of s (debug=0 .. error=3) and whether
// s is a known severity.
func SeverityRank(s Severity) (int, bool) {
	r, ok := severityRank[s]
	return r, ok
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// severityByEventType holds the default severity per event type.
var severityByEventType = map[EventType]Severity{
	EventTypeHeartbeat:         SeverityDebug,
	EventTypeTaskFailed:        SeverityError,
	EventTypeActionFailed:      SeverityError,
	EventTypeEscalated:         SeverityError,
	EventTypeApprovalRequested: SeverityWarn,
	EventTypeApprovalReceived:  SeverityWarn,
}

// DefaultSeverity returns the severity to apply when a client omits it.
// The event type decides first; for custom events the payload kind refines it.
func DefaultSeverity(eventType EventType, payloadKind string) Severity {
	if eventType == EventTypeCustom {
		if s, ok := severityByPayloadKind[payloadKind]; ok {
			return s
		}
	}
	if s, ok := severityByEventType[eventType]; ok {
		return s
	}
	return SeverityInfo
}

// Status is the outcome recorded on completion-type events.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusTimeout   Status = "timeout"
	StatusEscalated Status = "escalated"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the recognized outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusEscalated, StatusCancelled:
		return true
	}
	return false
}

// KeyType tags events with the kind of API key that produced them.
// Test-key events are invisible to live-key queries.
type KeyType string

const (
	KeyTypeLive KeyType = "live"
	KeyTypeTest KeyType = "test"
	KeyTypeRead KeyType = "read"
)

// Field limits enforced at ingestion.
const (
	MaxBatchSize      = 500
	MaxAgentIDLen     = 256
	MaxTaskIDLen      = 256
	MaxEnvironmentLen = 64
	MaxGroupLen       = 128
	MaxSummaryLen     = 512
	MaxPayloadBytes   = 32 * 1024
)

// Cold-event retention windows. These event kinds are high volume and low
// value, so they get a much tighter window than the tenant plan TTL.
const (
	HeartbeatRetention     = 10 * time.Minute
	ActionStartedRetention = 24 * time.Hour
)

// RetentionDays maps a tenant plan to its event retention window.
var RetentionDays = map[string]int{
	"free":       7,
	"pro":        30,
	"enterprise": 90,
}

// PlanRetention returns the retention window for a tenant plan, falling back
// to the free plan for unknown values.
func PlanRetention(plan string) time.Duration {
	days, ok := RetentionDays[plan]
	if !ok {
		days = RetentionDays["free"]
	}
	return time.Duration(days) * 24 * time.Hour
}

// Event is the canonical primitive. Once written it is immutable until pruned.
// (TenantID, EventID) is unique; duplicate submissions are dropped silently.
//
// Optional fields are pointers so query responses serialize them as explicit
// nulls rather than omitting them.
type Event struct {
	EventID   string    `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	KeyType   KeyType   `json:"key_type"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`
	Status    *Status   `json:"status"`

	AgentID        string  `json:"agent_id"`
	ProjectID      *string `json:"project_id"`
	TaskID         *string `json:"task_id"`
	ActionID       *string `json:"action_id"`
	ParentActionID *string `json:"parent_action_id"`

	// Context inherited from the batch envelope when absent on the event.
	Environment  *string `json:"environment"`
	Group        *string `json:"group"`
	AgentType    *string `json:"agent_type"`
	AgentVersion *string `json:"agent_version"`
	Framework    *string `json:"framework"`
	SDKVersion   *string `json:"sdk_version"`

	DurationMS *int64   `json:"duration_ms"`
	Payload    *Payload `json:"payload"`
}

// PayloadKind returns the payload kind, or "" when the event has no payload.
func (e *Event) PayloadKind() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind
}

// ParseTimestamp parses a client-supplied RFC-3339 timestamp and
// canonicalizes it to UTC so JSON encoding always carries the Z suffix
// (clients may send +00:00 offsets).
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// IsTaskScoped reports whether the event type carries task-level semantics.
func (t EventType) IsTaskScoped() bool {
	switch t {
	case EventTypeTaskStarted, EventTypeTaskCompleted, EventTypeTaskFailed:
		return true
	}
	return false
}

// ImpliesActiveWork reports whether the event type suggests the agent is in
// the middle of something. Used by stuck detection.
func (t EventType) ImpliesActiveWork() bool {
	return t == EventTypeTaskStarted || t == EventTypeActionStarted
}
