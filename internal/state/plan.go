package state

import (
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// PlanStep is one step of the plan overlay.
type PlanStep struct {
	Index       int        `json:"index"`
	Description string     `json:"description"`
	Status      string     `json:"status"` // pending, started, completed, failed, skipped
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// PlanProgress counts finished steps against the plan total.
type PlanProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Plan is the derived plan overlay of a task.
type Plan struct {
	Goal      string       `json:"goal"`
	Revision  int          `json:"revision"`
	CreatedAt time.Time    `json:"created_at"`
	Steps     []PlanStep   `json:"steps"`
	Progress  PlanProgress `json:"progress"`
}

// BuildPlan derives a task's plan overlay from its events (ascending order
// expected). The plan is the highest-revision plan_created, with plan_step
// events after it applied as step transitions. Returns nil when the task
// never emitted plan events.
func BuildPlan(taskEvents []*events.Event) *Plan {
	var plan *Plan
	var planAt time.Time

	for _, e := range taskEvents {
		created, ok := e.Payload.PlanCreated()
		if !ok {
			continue
		}
		if plan != nil && created.Revision < plan.Revision {
			continue
		}
		steps := make([]PlanStep, len(created.Steps))
		for i, desc := range created.Steps {
			steps[i] = PlanStep{Index: i, Description: desc, Status: "pending"}
		}
		plan = &Plan{
			Goal:      created.Goal,
			Revision:  created.Revision,
			CreatedAt: e.Timestamp,
			Steps:     steps,
			Progress:  PlanProgress{Total: len(steps)},
		}
		planAt = e.Timestamp
	}
	if plan == nil {
		return nil
	}

	// Step transitions from before the winning revision belong to a
	// superseded plan and are ignored.
	for _, e := range taskEvents {
		if e.Timestamp.Before(planAt) {
			continue
		}
		step, ok := e.Payload.PlanStep()
		if !ok {
			continue
		}
		if step.StepIndex < 0 || step.StepIndex >= len(plan.Steps) {
			continue
		}
		s := &plan.Steps[step.StepIndex]
		ts := e.Timestamp
		switch step.Action {
		case "started":
			s.Status = "started"
			s.StartedAt = &ts
		case "completed", "failed", "skipped":
			s.Status = step.Action
			s.CompletedAt = &ts
		}
	}

	for _, s := range plan.Steps {
		if s.Status == "completed" || s.Status == "skipped" {
			plan.Progress.Completed++
		}
	}
	return plan
}
