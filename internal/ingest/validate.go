package ingest

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hiveboard/hiveboard/internal/events"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// validate checks one submitted event and builds the canonical Event on
// success. Validation is fail-open: size overruns truncate with a warning and
// unknown payload fields only warn; rejection is reserved for schema
// violations, oversize payloads, and unknown projects.
func (p *Pipeline) validate(tenantID string, keyType events.KeyType, env *apiv1.IngestEnvelope, in *apiv1.IngestEvent, index int) (*events.Event, []apiv1.IngestIssue, *apiv1.IngestIssue) {
	reject := func(field, msg string) *apiv1.IngestIssue {
		return &apiv1.IngestIssue{Index: index, EventID: in.EventID, Field: field, Message: msg}
	}

	if _, err := uuid.Parse(in.EventID); err != nil {
		return nil, nil, reject("event_id", "event_id must be a valid UUID")
	}
	ts, err := events.ParseTimestamp(in.Timestamp)
	if err != nil {
		return nil, nil, reject("timestamp", "timestamp must be RFC 3339")
	}
	eventType := events.EventType(in.EventType)
	if !eventType.Valid() {
		return nil, nil, reject("event_type", fmt.Sprintf("unknown event_type %q", in.EventType))
	}
	if len(in.Payload) > events.MaxPayloadBytes {
		return nil, nil, reject("payload", fmt.Sprintf("payload exceeds %d bytes", events.MaxPayloadBytes))
	}

	var warnings []apiv1.IngestIssue
	warn := func(field, msg string) {
		warnings = append(warnings, apiv1.IngestIssue{Index: index, EventID: in.EventID, Field: field, Message: msg})
	}
	truncate := func(field, value string, max int) string {
		if len(value) <= max {
			return value
		}
		warn(field, fmt.Sprintf("%s truncated to %d characters", field, max))
		// Back up to a rune boundary so the cut never leaves invalid UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		return value[:cut]
	}

	agentID := in.AgentID
	if agentID == "" {
		agentID = env.AgentID
	}
	agentID = truncate("agent_id", agentID, events.MaxAgentIDLen)
	taskID := truncate("task_id", in.TaskID, events.MaxTaskIDLen)
	environment := truncate("environment", firstNonEmpty(in.Environment, env.Environment), events.MaxEnvironmentLen)
	group := truncate("group", firstNonEmpty(in.Group, env.Group), events.MaxGroupLen)

	var payload *events.Payload
	if len(in.Payload) > 0 {
		payload = &events.Payload{}
		if err := json.Unmarshal(in.Payload, payload); err != nil {
			return nil, warnings, reject("payload", "payload is not a valid object")
		}
		payload.Summary = truncate("payload.summary", payload.Summary, events.MaxSummaryLen)
		if events.KnownKind(payload.Kind) {
			for _, f := range payload.MissingDataFields() {
				warn("payload.data", fmt.Sprintf("kind %q is missing conventional field %q", payload.Kind, f))
			}
		}
	}

	severity := events.Severity(in.Severity)
	if in.Severity == "" {
		severity = events.DefaultSeverity(eventType, kindOf(payload))
	} else if !severity.Valid() {
		warn("severity", fmt.Sprintf("unknown severity %q, using default", in.Severity))
		severity = events.DefaultSeverity(eventType, kindOf(payload))
	}

	if in.ProjectID != "" && !p.store.KnownProject(tenantID, in.ProjectID) {
		return nil, warnings, reject("project_id", fmt.Sprintf("unknown project %q", in.ProjectID))
	}

	e := &events.Event{
		EventID:      in.EventID,
		TenantID:     tenantID,
		KeyType:      keyType,
		Timestamp:    ts,
		EventType:    eventType,
		Severity:     severity,
		AgentID:      agentID,
		ProjectID:    optional(in.ProjectID),
		TaskID:       optional(taskID),
		ActionID:     optional(in.ActionID),
		Environment:  optional(environment),
		Group:        optional(group),
		AgentType:    optional(env.AgentType),
		AgentVersion: optional(env.AgentVersion),
		Framework:    optional(env.Framework),
		SDKVersion:   optional(env.SDKVersion),
		DurationMS:   in.DurationMS,
		Payload:      payload,
	}
	if in.ParentActionID != "" {
		e.ParentActionID = optional(in.ParentActionID)
	}
	if in.Status != "" {
		status := events.Status(in.Status)
		if status.Valid() {
			e.Status = &status
		} else {
			warn("status", fmt.Sprintf("unknown status %q, dropped", in.Status))
		}
	}
	return e, warnings, nil
}

func kindOf(p *events.Payload) string {
	if p == nil {
		return ""
	}
	return p.Kind
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
