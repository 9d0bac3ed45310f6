package planner

import (
	"fmt"
	"time"

	"github.com/jllopis/orchestra/pkg/core"
)

// Builder turns selected roles into a dependency graph of tasks.
// Build is pure: it touches nothing but the returned slice.
type Builder struct{}

var phaseDescriptions = map[core.Phase]string{
	core.PhasePlan:      "Plan the architecture and break down the work for: %s",
	core.PhaseFrontend:  "Build the user interface for: %s",
	core.PhaseBackend:   "Build the backend services and data layer for: %s",
	core.PhaseIntegrate: "Integrate frontend and backend for: %s",
	core.PhaseTest:      "Test the implementation of: %s",
	core.PhaseDeploy:    "Deploy and configure infrastructure for: %s",
	core.PhaseDocument:  "Write documentation for: %s",
	core.PhaseGeneral:   "Complete the request: %s",
}

var phasePriorities = map[core.Phase]core.Priority{
	core.PhasePlan:      core.PriorityCritical,
	core.PhaseFrontend:  core.PriorityHigh,
	core.PhaseBackend:   core.PriorityHigh,
	core.PhaseIntegrate: core.PriorityHigh,
	core.PhaseTest:      core.PriorityMedium,
	core.PhaseDeploy:    core.PriorityHigh,
	core.PhaseDocument:  core.PriorityLow,
	core.PhaseGeneral:   core.PriorityMedium,
}

// Build emits at most one task per graph phase, in phase order, for every
// phase with a selected role. The first selected role of a phase owns its
// task. When no phase task results, a single general task is assigned to
// the first role.
func (Builder) Build(request string, roles []core.WorkerRole, complexity core.Complexity) []*core.AgentTask {
	if len(roles) == 0 {
		return nil
	}
	owners := make(map[core.Phase]core.WorkerRole)
	for _, r := range roles {
		p := r.Phase()
		if _, taken := owners[p]; !taken {
			owners[p] = r
		}
	}

	var (
		tasks   []*core.AgentTask
		planID  string
		byPhase = make(map[core.Phase]string)
	)
	emit := func(phase core.Phase, role core.WorkerRole, deps []string) {
		id := fmt.Sprintf("task-%d-%s", len(tasks)+1, phase)
		desc := fmt.Sprintf(phaseDescriptions[phase], request)
		tasks = append(tasks, core.NewTask(id, desc, role, phase, phasePriorities[phase], deps...))
		byPhase[phase] = id
	}
	withPlan := func(deps []string) []string {
		if len(deps) == 0 && planID != "" {
			return []string{planID}
		}
		return deps
	}

	for _, phase := range core.GraphPhases() {
		role, ok := owners[phase]
		if !ok {
			continue
		}
		switch phase {
		case core.PhasePlan:
			emit(phase, role, nil)
			planID = byPhase[phase]
		case core.PhaseFrontend, core.PhaseBackend:
			emit(phase, role, withPlan(nil))
		case core.PhaseIntegrate:
			emit(phase, role, withPlan(existing(byPhase, core.PhaseFrontend, core.PhaseBackend)))
		case core.PhaseTest:
			emit(phase, role, withPlan(existing(byPhase, core.PhaseFrontend, core.PhaseBackend, core.PhaseIntegrate)))
		case core.PhaseDeploy:
			deps := make([]string, 0, len(tasks))
			for _, t := range tasks {
				deps = append(deps, t.ID)
			}
			emit(phase, role, deps)
		case core.PhaseDocument:
			emit(phase, role, nil)
		}
	}

	if len(tasks) == 0 {
		emit(core.PhaseGeneral, roles[0], nil)
	}
	return tasks
}

func existing(byPhase map[core.Phase]string, phases ...core.Phase) []string {
	var ids []string
	for _, p := range phases {
		if id, ok := byPhase[p]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// StrategyFor returns the dispatch strategy for a complexity tier.
func StrategyFor(c core.Complexity) core.Strategy {
	switch c {
	case core.ComplexityComplex:
		return core.StrategyHybrid
	case core.ComplexityVeryComplex:
		return core.StrategyParallel
	}
	return core.StrategySequential
}

// EstimateDuration returns a rough wall-clock estimate for a task count.
func EstimateDuration(c core.Complexity, tasks int) time.Duration {
	unit := 2 * time.Minute
	switch c {
	case core.ComplexityModerate:
		unit = 5 * time.Minute
	case core.ComplexityComplex:
		unit = 10 * time.Minute
	case core.ComplexityVeryComplex:
		unit = 15 * time.Minute
	}
	return unit * time.Duration(tasks)
}
