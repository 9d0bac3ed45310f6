// Package plans keeps the registry of orchestration plans known to a
// process. The registry never mutates a plan; it hands out snapshots and
// forwards cancellation to the owning run.
package plans

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
)

// Summary is a listing row for a registered plan.
type Summary struct {
	ID           string          `json:"id"`
	Request      string          `json:"request"`
	Intent       string          `json:"intent"`
	Complexity   core.Complexity `json:"complexity"`
	Strategy     core.Strategy   `json:"strategy"`
	Active       bool            `json:"active"`
	IsComplete   bool            `json:"is_complete"`
	CurrentPhase int             `json:"current_phase"`
	TotalPhases  int             `json:"total_phases"`
	Counts       core.TaskCounts `json:"counts"`
	CreatedAt    time.Time       `json:"created_at"`
}

type entry struct {
	run          *engine.Run
	registeredAt time.Time
}

// Registry tracks runs by plan id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Register adds run. Registering an id twice is an error.
func (r *Registry) Register(run *engine.Run) error {
	if run == nil || run.ID() == "" {
		return errors.New(errors.CodeInvalidInput, "run has no plan id", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[run.ID()]; ok {
		return errors.Newf(errors.CodeInvalidInput, "plan %s already registered", run.ID())
	}
	r.entries[run.ID()] = &entry{run: run, registeredAt: r.now()}
	return nil
}

// Run returns the run for id.
func (r *Registry) Run(id string) (*engine.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.run, true
}

// Get returns a snapshot of the plan with id.
func (r *Registry) Get(id string) (*core.OrchestrationPlan, bool) {
	run, ok := r.Run(id)
	if !ok {
		return nil, false
	}
	return run.Snapshot(), true
}

// ListActive returns the ids of runs that have not finished, oldest first.
func (r *Registry) ListActive() []string {
	return r.ids(func(e *entry) bool { return e.run.Active() })
}

// List returns every registered id, oldest first.
func (r *Registry) List() []string {
	return r.ids(func(*entry) bool { return true })
}

// Summaries returns a listing row per registered plan, oldest first.
func (r *Registry) Summaries() []Summary {
	ids := r.List()
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		run, ok := r.Run(id)
		if !ok {
			continue
		}
		p := run.Snapshot()
		out = append(out, Summary{
			ID:           p.ID,
			Request:      p.Request,
			Intent:       p.Intent,
			Complexity:   p.Complexity,
			Strategy:     p.Strategy,
			Active:       run.Active(),
			IsComplete:   p.IsComplete,
			CurrentPhase: p.CurrentPhase,
			TotalPhases:  p.TotalPhases,
			Counts:       p.Counts(),
			CreatedAt:    p.CreatedAt,
		})
	}
	return out
}

func (r *Registry) ids(keep func(*entry) bool) []string {
	r.mu.RLock()
	type row struct {
		id string
		at time.Time
	}
	rows := make([]row, 0, len(r.entries))
	for id, e := range r.entries {
		if keep(e) {
			rows = append(rows, row{id, e.registeredAt})
		}
	}
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].at.Equal(rows[j].at) {
			return rows[i].id < rows[j].id
		}
		return rows[i].at.Before(rows[j].at)
	})
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.id
	}
	return out
}

// Cancel asks the run with id to stop. Cancelling a finished run is a no-op.
func (r *Registry) Cancel(id string) error {
	run, ok := r.Run(id)
	if !ok {
		return errors.Newf(errors.CodeNotFound, "plan %s not found", id)
	}
	run.Cancel()
	r.logger.Info("plans.cancel", slog.String("plan_id", id), slog.Bool("active", run.Active()))
	return nil
}

// Wait blocks until the run with id finishes and returns its report.
func (r *Registry) Wait(ctx context.Context, id string) (*engine.Report, error) {
	run, ok := r.Run(id)
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "plan %s not found", id)
	}
	return run.Wait(ctx)
}

// Remove evicts id. Active runs are cancelled first.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok && e.run.Active() {
		e.run.Cancel()
	}
	return ok
}

// Prune evicts finished runs registered before cutoff and returns how many
// were removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if !e.run.Active() && e.registeredAt.Before(cutoff) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// StartSweeper prunes finished runs older than retention every interval
// until StopSweeper is called. A non-positive interval or retention
// disables it.
func (r *Registry) StartSweeper(interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		r.logger.Info("plans.sweeper.disabled", slog.Duration("interval", interval), slog.Duration("retention", retention))
		return
	}
	r.StopSweeper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.sweepCancel = cancel
	r.sweepDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		r.logger.Info("plans.sweeper.start", slog.Duration("interval", interval), slog.Duration("retention", retention))
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("plans.sweeper.stop")
				return
			case <-ticker.C:
				if n := r.Prune(r.now().Add(-retention)); n > 0 {
					r.logger.Info("plans.sweeper.pruned", slog.Int("count", n))
				}
			}
		}
	}()
}

// StopSweeper stops a running sweeper and waits for it to exit.
func (r *Registry) StopSweeper() {
	r.mu.Lock()
	cancel, done := r.sweepCancel, r.sweepDone
	r.sweepCancel, r.sweepDone = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
