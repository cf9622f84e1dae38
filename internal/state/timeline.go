package state

import (
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// ActionNode is one node of the action tree. Events and Children are always
// present (possibly empty) for consumer compatibility.
type ActionNode struct {
	ActionID   string          `json:"action_id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"` // running, completed, failed
	DurationMS *int64          `json:"duration_ms"`
	StartedAt  *time.Time      `json:"started_at"`
	Events     []*events.Event `json:"events"`
	Children   []*ActionNode   `json:"children"`
}

// BuildActionTree reconstructs the action hierarchy of a task from its
// action_* events (ascending order expected). Nodes with a parent_action_id
// attach to their parent; only roots are returned, in first-seen order.
func BuildActionTree(taskEvents []*events.Event) []*ActionNode {
	nodes := make(map[string]*ActionNode)
	parents := make(map[string]string)
	var order []string

	nodeFor := func(actionID string) *ActionNode {
		n, ok := nodes[actionID]
		if !ok {
			n = &ActionNode{
				ActionID: actionID,
				Status:   "running",
				Events:   []*events.Event{},
				Children: []*ActionNode{},
			}
			nodes[actionID] = n
			order = append(order, actionID)
		}
		return n
	}

	for _, e := range taskEvents {
		if e.ActionID == nil {
			continue
		}
		switch e.EventType {
		case events.EventTypeActionStarted, events.EventTypeActionCompleted, events.EventTypeActionFailed:
		default:
			continue
		}

		n := nodeFor(*e.ActionID)
		n.Events = append(n.Events, e)
		if e.ParentActionID != nil {
			parents[*e.ActionID] = *e.ParentActionID
		}

		switch e.EventType {
		case events.EventTypeActionStarted:
			ts := e.Timestamp
			n.StartedAt = &ts
			if name, ok := e.Payload.DataString("action_name"); ok {
				n.Name = name
			} else if e.Payload != nil && e.Payload.Summary != "" {
				n.Name = e.Payload.Summary
			}
		case events.EventTypeActionCompleted:
			n.Status = "completed"
			n.DurationMS = e.DurationMS
		case events.EventTypeActionFailed:
			n.Status = "failed"
			n.DurationMS = e.DurationMS
		}
		// A completion event may carry the only name we ever see.
		if n.Name == "" && e.Payload != nil && e.Payload.Summary != "" {
			n.Name = e.Payload.Summary
		}
	}

	// Parents referenced only by child events still get a node so the
	// subtree stays reachable.
	for _, actionID := range order {
		if parentID, ok := parents[actionID]; ok {
			parent := nodeFor(parentID)
			parent.Children = append(parent.Children, nodes[actionID])
		}
	}

	roots := []*ActionNode{}
	for _, actionID := range order {
		if _, hasParent := parents[actionID]; !hasParent {
			roots = append(roots, nodes[actionID])
		}
	}
	return roots
}

// ErrorChain groups consecutive failure events of a task.
type ErrorChain struct {
	Events []*events.Event `json:"events"`
}

// BuildErrorChains groups consecutive *_failed events (or events linked by an
// explicit caused_by payload reference) into chains.
func BuildErrorChains(taskEvents []*events.Event) []ErrorChain {
	var chains []ErrorChain
	var current []*events.Event

	flush := func() {
		if len(current) > 0 {
			chains = append(chains, ErrorChain{Events: current})
			current = nil
		}
	}

	for _, e := range taskEvents {
		failed := e.EventType == events.EventTypeTaskFailed || e.EventType == events.EventTypeActionFailed
		if failed {
			current = append(current, e)
			continue
		}
		if causedBy, ok := e.Payload.DataString("caused_by"); ok && len(current) > 0 {
			if causedBy == current[len(current)-1].EventID {
				current = append(current, e)
				continue
			}
		}
		flush()
	}
	flush()
	if chains == nil {
		chains = []ErrorChain{}
	}
	return chains
}
