package core

import "time"

// CommunicationType tags an AgentCommunication.
type CommunicationType string

const (
	CommRequest       CommunicationType = "request"
	CommResponse      CommunicationType = "response"
	CommHandoff       CommunicationType = "handoff"
	CommCollaboration CommunicationType = "collaboration"
	CommStatus        CommunicationType = "status"
	CommError         CommunicationType = "error"
	CommCompletion    CommunicationType = "completion"
)

// Well-known endpoints that are not worker roles.
const (
	EndpointUser   = "user"
	EndpointSystem = "System"
)

// AgentCommunication is an immutable event record.
type AgentCommunication struct {
	ID        string            `json:"id"`
	PlanID    string            `json:"plan_id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Type      CommunicationType `json:"type"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// WorkerState is the last-known activity of a worker.
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerAnalyzing WorkerState = "analyzing"
	WorkerWorking   WorkerState = "working"
	WorkerWaiting   WorkerState = "waiting"
	WorkerCompleted WorkerState = "completed"
	WorkerBlocked   WorkerState = "blocked"
	WorkerError     WorkerState = "error"
)

// AgentStatus is the latest-known snapshot of one worker.
type AgentStatus struct {
	Worker         WorkerRole  `json:"worker"`
	PlanID         string      `json:"plan_id,omitempty"`
	State          WorkerState `json:"state"`
	CurrentTask    string      `json:"current_task,omitempty"`
	Progress       int         `json:"progress"`
	ToolsInUse     []string    `json:"tools_in_use,omitempty"`
	BlockingReason string      `json:"blocking_reason,omitempty"`
	Output         string      `json:"output,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
