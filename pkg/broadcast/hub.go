package broadcast

import (
	"context"
	"sync"
)

// Hub fans events out to per-plan subscribers. A subscription with an
// empty plan id receives every event. Slow subscribers lose events rather
// than stalling delivery.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a buffered subscriber for planID. The returned
// function unsubscribes and closes the channel.
func (h *Hub) Subscribe(planID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	set := h.subs[planID]
	if set == nil {
		set = make(map[chan Event]struct{})
		h.subs[planID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[planID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, planID)
				}
			}
			close(ch)
		})
	}
}

// Deliver implements Sink.
func (h *Hub) Deliver(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.publish(h.subs[ev.PlanID()], ev)
	if ev.PlanID() != "" {
		h.publish(h.subs[""], ev)
	}
	return nil
}

func (h *Hub) publish(set map[chan Event]struct{}, ev Event) {
	for ch := range set {
		select {
		case ch <- ev:
		default:
		}
	}
}
