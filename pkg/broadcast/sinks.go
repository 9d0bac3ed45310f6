package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jllopis/orchestra/pkg/core"
)

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

// Deliver implements Sink. All sinks are attempted; errors are joined.
func (m MultiSink) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelSink forwards events to a buffered channel without blocking.
// Events are dropped when the buffer is full.
type ChannelSink struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// C returns the receive side of the channel.
func (s *ChannelSink) C() <-chan Event { return s.ch }

// Deliver implements Sink.
func (s *ChannelSink) Deliver(_ context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of events discarded.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// Close closes the channel. Later events are counted as dropped.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case ev.Communication != nil:
		c := ev.Communication
		level := slog.LevelInfo
		if c.Type == core.CommError {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "broadcast.communication",
			slog.String("plan_id", c.PlanID),
			slog.String("id", c.ID),
			slog.String("type", string(c.Type)),
			slog.String("from", c.From),
			slog.String("to", c.To),
			slog.String("message", c.Message),
		)
	case ev.Status != nil:
		st := ev.Status
		logger.DebugContext(ctx, "broadcast.status",
			slog.String("plan_id", st.PlanID),
			slog.String("worker", string(st.Worker)),
			slog.String("state", string(st.State)),
			slog.Int("progress", st.Progress),
		)
	}
	return nil
}

// MemorySink records every event. It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Deliver implements Sink.
func (s *MemorySink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Communications returns recorded communications, optionally filtered by type.
func (s *MemorySink) Communications(types ...core.CommunicationType) []core.AgentCommunication {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AgentCommunication
	for _, ev := range s.events {
		if ev.Communication == nil {
			continue
		}
		if len(types) > 0 && !containsType(types, ev.Communication.Type) {
			continue
		}
		out = append(out, *ev.Communication)
	}
	return out
}

// StatusUpdates returns recorded status updates for worker, or all when empty.
func (s *MemorySink) StatusUpdates(worker core.WorkerRole) []core.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AgentStatus
	for _, ev := range s.events {
		if ev.Status == nil {
			continue
		}
		if worker != "" && ev.Status.Worker != worker {
			continue
		}
		out = append(out, *ev.Status)
	}
	return out
}

func containsType(types []core.CommunicationType, t core.CommunicationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
