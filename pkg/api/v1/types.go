// Package v1 defines the wire types of the HiveBoard HTTP and streaming APIs.
package v1

import "encoding/json"

// IngestEnvelope is the per-batch header. Its fields are inherited onto every
// event in the batch that does not set them itself.
type IngestEnvelope struct {
	AgentID      string `json:"agent_id"`
	AgentType    string `json:"agent_type,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
	Framework    string `json:"framework,omitempty"`
	SDKVersion   string `json:"sdk_version,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Group        string `json:"group,omitempty"`
}

// IngestEvent is one client-submitted event before validation. Timestamp stays
// a string here so the pipeline can report parse failures per event.
type IngestEvent struct {
	EventID        string          `json:"event_id"`
	Timestamp      string          `json:"timestamp"`
	EventType      string          `json:"event_type"`
	Severity       string          `json:"severity,omitempty"`
	Status         string          `json:"status,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	ProjectID      string          `json:"project_id,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	ActionID       string          `json:"action_id,omitempty"`
	ParentActionID string          `json:"parent_action_id,omitempty"`
	Environment    string          `json:"environment,omitempty"`
	Group          string          `json:"group,omitempty"`
	DurationMS     *int64          `json:"duration_ms,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// IngestRequest is the POST /v1/ingest body.
type IngestRequest struct {
	Envelope IngestEnvelope `json:"envelope"`
	Events   []IngestEvent  `json:"events"`
}

// IngestIssue reports one per-event warning or rejection.
type IngestIssue struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// IngestResponse summarizes one batch. accepted+rejected always equals the
// submitted batch size.
type IngestResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Warnings []IngestIssue `json:"warnings"`
	Errors   []IngestIssue `json:"errors"`
}

// ErrorResponse is the structured body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Pagination carries the opaque cursor of a paginated listing.
type Pagination struct {
	Cursor  *string `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// Paginated wraps a page of rows with its pagination state.
type Paginated[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}
