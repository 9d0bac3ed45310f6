package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/core"
	oerrors "github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/roster"
)

const fullStackRequest = "Build a full stack web application with a React frontend and a Go backend, " +
	"backed by a Postgres database, with user accounts and a clean interface; write unit tests " +
	"for every module and deploy it to a Kubernetes cluster today"

func fixedPlanner(opts ...Option) *Planner {
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return New(append([]Option{WithClock(clock, func() string { return "plan-1" })}, opts...)...)
}

func taskIDs(tasks []*core.AgentTask) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func TestLandingPagePlan(t *testing.T) {
	plan, err := fixedPlanner().Plan(context.Background(), "build a landing page", nil)
	require.NoError(t, err)

	assert.Equal(t, core.ComplexityModerate, plan.Complexity)
	assert.Equal(t, "Web UI development", plan.Intent)
	assert.Equal(t, []core.WorkerRole{core.RoleFrontendDeveloper}, plan.Roles)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "task-1-frontend", plan.Tasks[0].ID)
	assert.Empty(t, plan.Tasks[0].Dependencies)
	assert.Equal(t, core.StrategySequential, plan.Strategy)
	assert.Equal(t, 1, plan.TotalPhases)
	assert.Equal(t, 5*time.Minute, plan.EstimatedDuration)
	assert.Equal(t, "plan-1", plan.ID)
}

func TestFullStackPlan(t *testing.T) {
	require.Len(t, strings.Fields(fullStackRequest), 40)

	plan, err := fixedPlanner().Plan(context.Background(), fullStackRequest, nil)
	require.NoError(t, err)

	assert.Equal(t, core.ComplexityVeryComplex, plan.Complexity)
	for _, role := range []core.WorkerRole{
		core.RoleCoordinator, core.RoleArchitect, core.RoleFrontendDeveloper,
		core.RoleBackendDeveloper, core.RoleFullstackDeveloper, core.RoleDevOpsEngineer,
		core.RoleQAEngineer, core.RoleCodeReviewer, core.RoleErrorHandler,
	} {
		assert.Contains(t, plan.Roles, role)
	}
	assert.Equal(t, core.RoleCoordinator, plan.Roles[0])
	assert.Equal(t, core.RoleArchitect, plan.Roles[1])
	assert.Equal(t, core.RoleErrorHandler, plan.Roles[len(plan.Roles)-1])

	assert.Equal(t, []string{
		"task-1-plan", "task-2-frontend", "task-3-backend",
		"task-4-integrate", "task-5-test", "task-6-deploy",
	}, taskIDs(plan.Tasks))

	integrate, _ := plan.Task("task-4-integrate")
	assert.Equal(t, []string{"task-2-frontend", "task-3-backend"}, integrate.Dependencies)

	test, _ := plan.Task("task-5-test")
	assert.Equal(t, []string{"task-2-frontend", "task-3-backend", "task-4-integrate"}, test.Dependencies)

	deploy, _ := plan.Task("task-6-deploy")
	assert.Equal(t, taskIDs(plan.Tasks[:5]), deploy.Dependencies)

	assert.Equal(t, core.StrategyParallel, plan.Strategy)
	assert.Equal(t, 5, plan.TotalPhases)
	for _, task := range plan.Tasks {
		assert.Equal(t, core.TaskStatusPending, task.Status)
		assert.Equal(t, 3, task.MaxRetries)
		assert.Zero(t, task.RetryCount)
	}
}

func TestGeneralFallbackPlan(t *testing.T) {
	plan, err := fixedPlanner().Plan(context.Background(), "hello there", nil)
	require.NoError(t, err)

	assert.Equal(t, core.ComplexitySimple, plan.Complexity)
	assert.Equal(t, DefaultIntent, plan.Intent)
	assert.Equal(t, []core.WorkerRole{core.RoleGeneralAssistant}, plan.Roles)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "task-1-general", plan.Tasks[0].ID)
	assert.Equal(t, core.PriorityMedium, plan.Tasks[0].Priority)
}

func TestDocumentationHasNoDependencies(t *testing.T) {
	plan, err := fixedPlanner().Plan(context.Background(), "Document the REST API", nil)
	require.NoError(t, err)

	assert.Equal(t, core.ComplexityComplex, plan.Complexity)
	assert.Equal(t, core.StrategyHybrid, plan.Strategy)
	assert.Equal(t, []string{"task-1-plan", "task-2-backend", "task-3-document"}, taskIDs(plan.Tasks))
	doc, _ := plan.Task("task-3-document")
	assert.Empty(t, doc.Dependencies)
	assert.Equal(t, core.PriorityLow, doc.Priority)
	backend, _ := plan.Task("task-2-backend")
	assert.Equal(t, []string{"task-1-plan"}, backend.Dependencies)
}

func TestPlanFiltersByRoster(t *testing.T) {
	available, err := roster.Default().Subset("frontend", "general-assistant")
	require.NoError(t, err)

	plan, err := fixedPlanner().Plan(context.Background(), fullStackRequest, available)
	require.NoError(t, err)
	assert.Equal(t, []core.WorkerRole{core.RoleFrontendDeveloper}, plan.Roles)
	assert.Equal(t, []string{"task-1-frontend"}, taskIDs(plan.Tasks))

	onlyGeneral, err := roster.Default().Subset("general")
	require.NoError(t, err)
	plan, err = fixedPlanner().Plan(context.Background(), "build a landing page", onlyGeneral)
	require.NoError(t, err)
	assert.Equal(t, []core.WorkerRole{core.RoleGeneralAssistant}, plan.Roles)
}

func TestPlanClassificationError(t *testing.T) {
	available, err := roster.Default().Subset("mobile")
	require.NoError(t, err)

	_, err = fixedPlanner().Plan(context.Background(), "build a landing page", available)
	require.Error(t, err)
	assert.Equal(t, oerrors.CodeClassification, oerrors.CodeOf(err))
}

func TestPlanRejectsEmptyRequest(t *testing.T) {
	_, err := fixedPlanner().Plan(context.Background(), "   ", nil)
	assert.Equal(t, oerrors.CodeInvalidInput, oerrors.CodeOf(err))
}

func TestPluggableStrategies(t *testing.T) {
	p := fixedPlanner(
		WithClassifier(ClassifierFunc(func(string) (core.Complexity, string) {
			return core.ComplexitySimple, "custom"
		})),
		WithSelector(SelectorFunc(func(string, string, core.Complexity) []core.WorkerRole {
			return []core.WorkerRole{core.RoleQAEngineer}
		})),
		WithStrategy(core.StrategyParallel),
	)
	plan, err := p.Plan(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", plan.Intent)
	assert.Equal(t, []string{"task-1-test"}, taskIDs(plan.Tasks))
	assert.Empty(t, plan.Tasks[0].Dependencies)
	assert.Equal(t, core.StrategyParallel, plan.Strategy)
}

func TestClassifierComplexity(t *testing.T) {
	tests := []struct {
		request string
		want    core.Complexity
	}{
		{"hello", core.ComplexitySimple},
		{"build a landing page", core.ComplexityModerate},
		{"one two three four five six seven eight nine ten eleven", core.ComplexityModerate},
		{"add a login server", core.ComplexityComplex},
		{"plan the deployment", core.ComplexityComplex},
		{"database api backend auth", core.ComplexityVeryComplex},
		{"authentication auth database api", core.ComplexityComplex},
		{strings.Repeat("word ", 26), core.ComplexityComplex},
		{strings.Repeat("word ", 51), core.ComplexityVeryComplex},
		{"make it scalable " + strings.Repeat("x ", 20), core.ComplexityVeryComplex},
		{"make it scalable", core.ComplexitySimple},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			got, _ := KeywordClassifier{}.Classify(tt.request)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifierIntent(t *testing.T) {
	tests := []struct {
		request string
		want    string
	}{
		{"style the landing page", "Web UI development"},
		{"expose a graphql endpoint", "API/Backend development"},
		{"fix the crash on startup", "Bug fixing"},
		{"ship a docker image", "Deployment"},
		{"raise coverage", "Testing"},
		{"update the README", "Documentation"},
		{"train a model", "Data/ML"},
		{"an android port", "Mobile development"},
		{"refactor the parser", "Refactoring"},
		{"say hi", DefaultIntent},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			_, got := KeywordClassifier{}.Classify(tt.request)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectorDeduplicatesInInsertionOrder(t *testing.T) {
	roles := RuleSelector{}.Select("fullstack frontend backend app", "", core.ComplexityModerate)
	assert.Equal(t, []core.WorkerRole{
		core.RoleFrontendDeveloper, core.RoleBackendDeveloper, core.RoleFullstackDeveloper,
	}, roles)
}

func TestValidate(t *testing.T) {
	a := core.NewTask("a", "", core.RoleArchitect, core.PhasePlan, core.PriorityCritical, "c")
	b := core.NewTask("b", "", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh, "a")
	c := core.NewTask("c", "", core.RoleQAEngineer, core.PhaseTest, core.PriorityMedium, "b")

	err := Validate([]*core.AgentTask{a, b, c})
	assert.True(t, errors.Is(err, ErrCycleDetected))

	unknown := core.NewTask("d", "", core.RoleQAEngineer, core.PhaseTest, core.PriorityMedium, "zzz")
	assert.ErrorContains(t, Validate([]*core.AgentTask{unknown}), "unknown task")

	dup := core.NewTask("d", "", core.RoleQAEngineer, core.PhaseTest, core.PriorityMedium)
	assert.ErrorContains(t, Validate([]*core.AgentTask{dup, dup.Clone()}), "duplicate")

	assert.Error(t, Validate(nil))
}

func TestDepths(t *testing.T) {
	plan, err := fixedPlanner().Plan(context.Background(), fullStackRequest, nil)
	require.NoError(t, err)
	depths := Depths(plan.Tasks)
	assert.Equal(t, 1, depths["task-1-plan"])
	assert.Equal(t, 6, depths["task-6-deploy"])
}
