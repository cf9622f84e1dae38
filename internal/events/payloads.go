package events

import "encoding/json"

// Payload carries the rich, convention-based part of an event. The kind
// discriminates the schema of Data; unknown kinds pass through untouched for
// forward compatibility.
type Payload struct {
	Kind    string         `json:"kind,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
}

// Conventional payload kinds.
const (
	PayloadKindLLMCall       = "llm_call"
	PayloadKindPlanCreated   = "plan_created"
	PayloadKindPlanStep      = "plan_step"
	PayloadKindQueueSnapshot = "queue_snapshot"
	PayloadKindTodo          = "todo"
	PayloadKindScheduled     = "scheduled"
	PayloadKindIssue         = "issue"
)

// severityByPayloadKind refines the default severity of custom events.
var severityByPayloadKind = map[string]Severity{
	PayloadKindLLMCall: SeverityInfo,
	PayloadKindIssue:   SeverityWarn,
}

// requiredDataFields lists the data fields each conventional kind must carry.
// A missing field is an advisory warning at ingestion, never a rejection.
var requiredDataFields = map[string][]string{
	PayloadKindLLMCall:       {"model", "tokens_in", "tokens_out"},
	PayloadKindPlanCreated:   {"goal", "steps"},
	PayloadKindPlanStep:      {"step_index", "action"},
	PayloadKindQueueSnapshot: {"depth"},
	PayloadKindTodo:          {"todo_id", "action"},
	PayloadKindScheduled:     {"items"},
	PayloadKindIssue:         {"issue_id", "action"},
}

// KnownKind reports whether kind is one of the conventional payload kinds.
func KnownKind(kind string) bool {
	_, ok := requiredDataFields[kind]
	return ok
}

// MissingDataFields returns the required data fields absent from p.Data.
// Returns nil for unknown kinds and for payloads with all fields present.
func (p *Payload) MissingDataFields() []string {
	required, ok := requiredDataFields[p.Kind]
	if !ok {
		return nil
	}
	var missing []string
	for _, f := range required {
		if _, present := p.Data[f]; !present {
			missing = append(missing, f)
		}
	}
	return missing
}

// LLMCallData is the typed view of an llm_call payload.
type LLMCallData struct {
	Name            string   `json:"name"`
	Model           string   `json:"model"`
	TokensIn        int64    `json:"tokens_in"`
	TokensOut       int64    `json:"tokens_out"`
	Cost            *float64 `json:"cost"`
	DurationMS      *int64   `json:"duration_ms"`
	PromptPreview   string   `json:"prompt_preview"`
	ResponsePreview string   `json:"response_preview"`
}

// PlanCreatedData is the typed view of a plan_created payload.
type PlanCreatedData struct {
	Goal     string   `json:"goal"`
	Steps    []string `json:"steps"`
	Revision int      `json:"revision"`
}

// PlanStepData is the typed view of a plan_step payload.
type PlanStepData struct {
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`
	Action     string `json:"action"` // started, completed, failed, skipped
	Summary    string `json:"summary"`
}

// QueueSnapshotData is the typed view of a queue_snapshot payload.
type QueueSnapshotData struct {
	Depth int   `json:"depth"`
	Items []any `json:"items"`
}

// TodoData is the typed view of a todo payload.
type TodoData struct {
	TodoID string `json:"todo_id"`
	Action string `json:"action"` // created, completed, failed, dismissed, deferred
	Title  string `json:"title"`
}

// ScheduledItem is one recurring schedule entry in a scheduled payload.
type ScheduledItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NextRun    string `json:"next_run"`
	Interval   string `json:"interval"`
	Enabled    bool   `json:"enabled"`
	LastStatus string `json:"last_status"`
}

// ScheduledData is the typed view of a scheduled payload.
type ScheduledData struct {
	Items []ScheduledItem `json:"items"`
}

// IssueData is the typed view of an issue payload.
type IssueData struct {
	Severity        string `json:"severity"`
	Action          string `json:"action"` // reported, resolved
	IssueID         string `json:"issue_id"`
	Category        string `json:"category"`
	OccurrenceCount int    `json:"occurrence_count"`
}

// decodeData round-trips p.Data through JSON into a typed view. Events arrive
// as JSON so the map values already carry JSON-compatible types.
func (p *Payload) decodeData(v any) error {
	raw, err := json.Marshal(p.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// LLMCall decodes the payload as an llm_call. The bool is false when the
// payload has a different kind or the data cannot be decoded.
func (p *Payload) LLMCall() (LLMCallData, bool) {
	var d LLMCallData
	if p == nil || p.Kind != PayloadKindLLMCall {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// PlanCreated decodes the payload as a plan_created.
func (p *Payload) PlanCreated() (PlanCreatedData, bool) {
	var d PlanCreatedData
	if p == nil || p.Kind != PayloadKindPlanCreated {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// PlanStep decodes the payload as a plan_step.
func (p *Payload) PlanStep() (PlanStepData, bool) {
	var d PlanStepData
	if p == nil || p.Kind != PayloadKindPlanStep {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// QueueSnapshot decodes the payload as a queue_snapshot.
func (p *Payload) QueueSnapshot() (QueueSnapshotData, bool) {
	var d QueueSnapshotData
	if p == nil || p.Kind != PayloadKindQueueSnapshot {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// Todo decodes the payload as a todo.
func (p *Payload) Todo() (TodoData, bool) {
	var d TodoData
	if p == nil || p.Kind != PayloadKindTodo {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// Scheduled decodes the payload as a scheduled.
func (p *Payload) Scheduled() (ScheduledData, bool) {
	var d ScheduledData
	if p == nil || p.Kind != PayloadKindScheduled {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// Issue decodes the payload as an issue.
func (p *Payload) Issue() (IssueData, bool) {
	var d IssueData
	if p == nil || p.Kind != PayloadKindIssue {
		return d, false
	}
	return d, p.decodeData(&d) == nil
}

// DataString returns p.Data[key] as a string when present.
func (p *Payload) DataString(key string) (string, bool) {
	if p == nil || p.Data == nil {
		return "", false
	}
	s, ok := p.Data[key].(string)
	return s, ok
}
