// Package broadcast delivers agent communications and status updates to
// an external sink and keeps the last-known status of every worker.
//
// Delivery is fire-and-forget: sink errors are logged and never retried.
// Sinks are invoked one event at a time, in emission order, so they do not
// need to be safe for concurrent use.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jllopis/orchestra/pkg/core"
)

// Event carries exactly one of a communication or a status update.
type Event struct {
	Communication *core.AgentCommunication `json:"communication,omitempty"`
	Status        *core.AgentStatus        `json:"status,omitempty"`
}

// PlanID returns the plan the event belongs to.
func (e Event) PlanID() string {
	switch {
	case e.Communication != nil:
		return e.Communication.PlanID
	case e.Status != nil:
		return e.Status.PlanID
	}
	return ""
}

// Sink receives broadcast events.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Broadcaster emits events and tracks per-worker status.
type Broadcaster struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	deliverMu sync.Mutex

	mu       sync.RWMutex
	statuses map[core.WorkerRole]core.AgentStatus
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// New creates a Broadcaster. A nil sink discards events but still tracks status.
func New(sink Sink, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		sink:     sink,
		logger:   slog.Default(),
		now:      time.Now,
		statuses: make(map[core.WorkerRole]core.AgentStatus),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit stamps comm with an id and timestamp when missing and delivers it.
// The stamped communication is returned.
func (b *Broadcaster) Emit(ctx context.Context, comm core.AgentCommunication) core.AgentCommunication {
	if comm.ID == "" {
		comm.ID = ulid.Make().String()
	}
	if comm.Timestamp.IsZero() {
		comm.Timestamp = b.now().UTC()
	}
	b.deliver(ctx, Event{Communication: &comm})
	return comm
}

// UpdateStatus overwrites the worker's last-known status and forwards it.
func (b *Broadcaster) UpdateStatus(ctx context.Context, status core.AgentStatus) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = b.now().UTC()
	}
	status.ToolsInUse = append([]string(nil), status.ToolsInUse...)
	b.mu.Lock()
	b.statuses[status.Worker] = status
	b.mu.Unlock()
	b.deliver(ctx, Event{Status: &status})
}

// LatestStatus returns the last status recorded for worker.
func (b *Broadcaster) LatestStatus(worker core.WorkerRole) (core.AgentStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.statuses[worker]
	if ok {
		s.ToolsInUse = append([]string(nil), s.ToolsInUse...)
	}
	return s, ok
}

// Statuses returns every known worker status ordered by worker.
func (b *Broadcaster) Statuses() []core.AgentStatus {
	b.mu.RLock()
	out := make([]core.AgentStatus, 0, len(b.statuses))
	for _, s := range b.statuses {
		s.ToolsInUse = append([]string(nil), s.ToolsInUse...)
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

func (b *Broadcaster) deliver(ctx context.Context, ev Event) {
	if b.sink == nil {
		return
	}
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	if err := b.safeDeliver(ctx, ev); err != nil {
		b.logger.WarnContext(ctx, "broadcast.deliver.failed",
			slog.String("plan_id", ev.PlanID()),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Broadcaster) safeDeliver(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return b.sink.Deliver(ctx, ev)
}
