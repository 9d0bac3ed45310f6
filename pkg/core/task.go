package core

import "time"

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority ranks a task for display and reporting.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// DefaultMaxRetries is the retry budget given to every built task.
const DefaultMaxRetries = 3

// AgentTask is a unit of work assigned to one worker role.
type AgentTask struct {
	ID           string
	Description  string
	AssignedTo   WorkerRole
	Phase        Phase
	Status       TaskStatus
	Priority     Priority
	Dependencies []string
	Result       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	RetryCount   int
	MaxRetries   int
	// Attempts counts executor invocations, including abandoned ones.
	Attempts int
	// Fatal is set when the executor returned a non-retryable error.
	Fatal bool
	// NextAttemptAt gates a requeued task when retry backoff is enabled.
	NextAttemptAt time.Time
}

// NewTask creates a pending task with the default retry budget.
func NewTask(id, description string, role WorkerRole, phase Phase, priority Priority, deps ...string) *AgentTask {
	return &AgentTask{
		ID:           id,
		Description:  description,
		AssignedTo:   role,
		Phase:        phase,
		Status:       TaskStatusPending,
		Priority:     priority,
		Dependencies: append([]string(nil), deps...),
		MaxRetries:   DefaultMaxRetries,
	}
}

// Start marks the task in progress.
func (t *AgentTask) Start(now time.Time) {
	t.Status = TaskStatusInProgress
	t.StartedAt = now
	t.FinishedAt = time.Time{}
	t.Error = ""
	t.Attempts++
}

// Complete marks the task completed with a result.
func (t *AgentTask) Complete(result string, now time.Time) {
	t.Status = TaskStatusCompleted
	t.Result = result
	t.Error = ""
	t.FinishedAt = now
	t.NextAttemptAt = time.Time{}
}

// Fail records a failure and applies the retry rule. It reports whether
// the task was requeued as pending.
func (t *AgentTask) Fail(msg string, fatal bool, now time.Time) bool {
	t.Status = TaskStatusFailed
	t.Error = msg
	t.FinishedAt = now
	if fatal {
		t.Fatal = true
		return false
	}
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = TaskStatusPending
		return true
	}
	return false
}

// Terminal reports whether the task can no longer change state.
func (t *AgentTask) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted:
		return true
	case TaskStatusFailed:
		return t.Fatal || t.RetryCount >= t.MaxRetries
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *AgentTask) Clone() *AgentTask {
	cp := *t
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	return &cp
}
