package plans

import (
	"time"

	"github.com/jllopis/orchestra/pkg/core"
)

// TaskView is the wire form of a task.
type TaskView struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	AssignedTo   core.WorkerRole `json:"assigned_to"`
	Phase        core.Phase      `json:"phase"`
	Status       core.TaskStatus `json:"status"`
	Priority     core.Priority   `json:"priority"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Fatal        bool            `json:"fatal,omitempty"`
}

// PlanView is the wire form of a plan.
type PlanView struct {
	ID                string            `json:"id"`
	Request           string            `json:"request"`
	Intent            string            `json:"intent"`
	Complexity        core.Complexity   `json:"complexity"`
	Strategy          core.Strategy     `json:"strategy"`
	Roles             []core.WorkerRole `json:"roles"`
	EstimatedDuration string            `json:"estimated_duration"`
	CurrentPhase      int               `json:"current_phase"`
	TotalPhases       int               `json:"total_phases"`
	IsComplete        bool              `json:"is_complete"`
	Counts            core.TaskCounts   `json:"counts"`
	Tasks             []TaskView        `json:"tasks"`
	CreatedAt         time.Time         `json:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Describe renders plan for JSON output.
func Describe(plan *core.OrchestrationPlan) PlanView {
	v := PlanView{
		ID:                plan.ID,
		Request:           plan.Request,
		Intent:            plan.Intent,
		Complexity:        plan.Complexity,
		Strategy:          plan.Strategy,
		Roles:             plan.Roles,
		EstimatedDuration: plan.EstimatedDuration.String(),
		CurrentPhase:      plan.CurrentPhase,
		TotalPhases:       plan.TotalPhases,
		IsComplete:        plan.IsComplete,
		Counts:            plan.Counts(),
		Tasks:             make([]TaskView, len(plan.Tasks)),
		CreatedAt:         plan.CreatedAt,
	}
	if !plan.CompletedAt.IsZero() {
		at := plan.CompletedAt
		v.CompletedAt = &at
	}
	for i, t := range plan.Tasks {
		v.Tasks[i] = TaskView{
			ID:           t.ID,
			Description:  t.Description,
			AssignedTo:   t.AssignedTo,
			Phase:        t.Phase,
			Status:       t.Status,
			Priority:     t.Priority,
			Dependencies: t.Dependencies,
			Result:       t.Result,
			Error:        t.Error,
			RetryCount:   t.RetryCount,
			MaxRetries:   t.MaxRetries,
			Fatal:        t.Fatal,
		}
	}
	return v
}
