// Package history records broadcast events and finished plans.
//
// Stores implement broadcast.Sink so they can be attached to a Broadcaster
// directly. They are an external record of what happened; the execution
// engine never reads plan state back from them.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
)

// Store persists communications and status updates.
type Store interface {
	broadcast.Sink
	Communications(ctx context.Context, filter Filter) ([]core.AgentCommunication, error)
	Statuses(ctx context.Context, filter Filter) ([]core.AgentStatus, error)
}

// PlanArchive persists finished plans.
type PlanArchive interface {
	SavePlan(ctx context.Context, rec PlanRecord) error
	Plan(ctx context.Context, id string) (PlanRecord, error)
	Plans(ctx context.Context, filter Filter) ([]PlanRecord, error)
}

// Filter limits history queries. Zero fields match everything.
type Filter struct {
	PlanID string
	Type   core.CommunicationType
	Worker core.WorkerRole
	Limit  int
}

// PlanRecord is an archived plan with its run outcome.
type PlanRecord struct {
	Plan       *core.OrchestrationPlan `json:"plan"`
	Outcome    string                  `json:"outcome"`
	Iterations int                     `json:"iterations"`
	FinishedAt time.Time               `json:"finished_at"`
}

// MemoryStore keeps history in memory.
type MemoryStore struct {
	mu       sync.Mutex
	comms    []core.AgentCommunication
	statuses []core.AgentStatus
	plans    []PlanRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Deliver implements broadcast.Sink.
func (s *MemoryStore) Deliver(_ context.Context, ev broadcast.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Communication != nil {
		s.comms = append(s.comms, *ev.Communication)
	}
	if ev.Status != nil {
		s.statuses = append(s.statuses, *ev.Status)
	}
	return nil
}

// Communications returns recorded communications matching filter.
func (s *MemoryStore) Communications(_ context.Context, filter Filter) ([]core.AgentCommunication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AgentCommunication, 0, len(s.comms))
	for _, c := range s.comms {
		if filter.PlanID != "" && c.PlanID != filter.PlanID {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Worker != "" && c.From != string(filter.Worker) && c.To != string(filter.Worker) {
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Statuses returns recorded status updates matching filter.
func (s *MemoryStore) Statuses(_ context.Context, filter Filter) ([]core.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AgentStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		if filter.PlanID != "" && st.PlanID != filter.PlanID {
			continue
		}
		if filter.Worker != "" && st.Worker != filter.Worker {
			continue
		}
		out = append(out, st)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// SavePlan archives a plan snapshot, replacing an earlier record with the same id.
func (s *MemoryStore) SavePlan(_ context.Context, rec PlanRecord) error {
	if rec.Plan == nil {
		return errors.New(errors.CodeInvalidInput, "plan record has no plan", nil)
	}
	rec.Plan = rec.Plan.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.plans {
		if existing.Plan.ID == rec.Plan.ID {
			s.plans[i] = rec
			return nil
		}
	}
	s.plans = append(s.plans, rec)
	return nil
}

// Plan returns the archived plan with id.
func (s *MemoryStore) Plan(_ context.Context, id string) (PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.plans {
		if rec.Plan.ID == id {
			rec.Plan = rec.Plan.Clone()
			return rec, nil
		}
	}
	return PlanRecord{}, errors.Newf(errors.CodeNotFound, "plan %s not archived", id)
}

// Plans returns archived plans, most recent first.
func (s *MemoryStore) Plans(_ context.Context, filter Filter) ([]PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlanRecord, 0, len(s.plans))
	for i := len(s.plans) - 1; i >= 0; i-- {
		rec := s.plans[i]
		if filter.PlanID != "" && rec.Plan.ID != filter.PlanID {
			continue
		}
		rec.Plan = rec.Plan.Clone()
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
