package state

import (
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// QueueView is the agent's most recent queue snapshot.
type QueueView struct {
	Depth      int       `json:"depth"`
	Items      []any     `json:"items"`
	SnapshotAt time.Time `json:"snapshot_at"`
}

// TodoView is one open todo, reconstructed from the todo event trail.
type TodoView struct {
	TodoID    string    `json:"todo_id"`
	Title     string    `json:"title"`
	Action    string    `json:"action"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledView is the agent's most recent scheduled-items snapshot.
type ScheduledView struct {
	Items      []events.ScheduledItem `json:"items"`
	SnapshotAt time.Time              `json:"snapshot_at"`
}

// IssueView is one unresolved issue.
type IssueView struct {
	IssueID         string    `json:"issue_id"`
	Severity        string    `json:"severity"`
	Category        string    `json:"category"`
	Summary         string    `json:"summary"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// Pipeline is the full derived pipeline view of an agent.
type Pipeline struct {
	Queue     *QueueView     `json:"queue"`
	Todos     []TodoView     `json:"todos"`
	Scheduled *ScheduledView `json:"scheduled"`
	Issues    []IssueView    `json:"issues"`
}

// PipelineFor reconstructs the agent's pipeline view. Queue and scheduled are
// last-snapshot-wins; todos and issues replay the event trail so only open
// items survive.
func (e *Engine) PipelineFor(tenantID string, viewer events.KeyType, agentID string) *Pipeline {
	p := &Pipeline{
		Todos:  []TodoView{},
		Issues: []IssueView{},
	}

	if ev := e.store.NewestPayloadEvent(tenantID, viewer, agentID, events.PayloadKindQueueSnapshot); ev != nil {
		if snap, ok := ev.Payload.QueueSnapshot(); ok {
			items := snap.Items
			if items == nil {
				items = []any{}
			}
			p.Queue = &QueueView{Depth: snap.Depth, Items: items, SnapshotAt: ev.Timestamp}
		}
	}

	if ev := e.store.NewestPayloadEvent(tenantID, viewer, agentID, events.PayloadKindScheduled); ev != nil {
		if sched, ok := ev.Payload.Scheduled(); ok {
			items := sched.Items
			if items == nil {
				items = []events.ScheduledItem{}
			}
			p.Scheduled = &ScheduledView{Items: items, SnapshotAt: ev.Timestamp}
		}
	}

	p.Todos = openTodos(e.store.PayloadEvents(tenantID, viewer, agentID, events.PayloadKindTodo))
	p.Issues = openIssues(e.store.PayloadEvents(tenantID, viewer, agentID, events.PayloadKindIssue))
	return p
}

// openTodos replays todo events and keeps each todo_id's latest action.
// Only created and deferred todos are open.
func openTodos(evs []*events.Event) []TodoView {
	latest := make(map[string]*TodoView)
	var order []string

	for _, ev := range evs {
		todo, ok := ev.Payload.Todo()
		if !ok || todo.TodoID == "" {
			continue
		}
		v, seen := latest[todo.TodoID]
		if !seen {
			v = &TodoView{TodoID: todo.TodoID}
			latest[todo.TodoID] = v
			order = append(order, todo.TodoID)
		}
		v.Action = todo.Action
		v.UpdatedAt = ev.Timestamp
		if todo.Title != "" {
			v.Title = todo.Title
		}
	}

	open := []TodoView{}
	for _, id := range order {
		v := latest[id]
		if v.Action == "created" || v.Action == "deferred" {
			open = append(open, *v)
		}
	}
	return open
}

// openIssues keeps issues whose latest action is reported, accumulating the
// occurrence count across reports.
func openIssues(evs []*events.Event) []IssueView {
	latest := make(map[string]*IssueView)
	resolved := make(map[string]bool)
	var order []string

	for _, ev := range evs {
		issue, ok := ev.Payload.Issue()
		if !ok || issue.IssueID == "" {
			continue
		}
		if issue.Action == "resolved" {
			resolved[issue.IssueID] = true
			continue
		}
		v, seen := latest[issue.IssueID]
		if !seen {
			v = &IssueView{IssueID: issue.IssueID, FirstSeen: ev.Timestamp, OccurrenceCount: 0}
			latest[issue.IssueID] = v
			order = append(order, issue.IssueID)
		}
		// A re-report reopens a previously resolved issue.
		delete(resolved, issue.IssueID)
		v.LastSeen = ev.Timestamp
		if issue.Severity != "" {
			v.Severity = issue.Severity
		}
		if issue.Category != "" {
			v.Category = issue.Category
		}
		if ev.Payload.Summary != "" {
			v.Summary = ev.Payload.Summary
		}
		if issue.OccurrenceCount > 0 {
			v.OccurrenceCount = issue.OccurrenceCount
		} else {
			v.OccurrenceCount++
		}
	}

	open := []IssueView{}
	for _, id := range order {
		if resolved[id] {
			continue
		}
		open = append(open, *latest[id])
	}
	return open
}
