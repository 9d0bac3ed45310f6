package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/llm"
)

func request(hint string) engine.ExecutionRequest {
	task := core.NewTask("task-2-frontend", "Build the landing page", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh, "task-1-plan")
	return engine.ExecutionRequest{
		PlanID:       "plan-1",
		Request:      "Create a landing page",
		Task:         *task,
		Role:         core.RoleFrontendDeveloper,
		ProviderHint: hint,
		Capability: &core.AgentCapability{
			Role:   core.RoleFrontendDeveloper,
			Name:   "Frontend Developer",
			Skills: []string{"react", "css"},
			Tools:  []string{"vite"},
		},
	}
}

func collect(t *testing.T, ch <-chan engine.Chunk) (string, engine.Chunk) {
	t.Helper()
	var b strings.Builder
	var last engine.Chunk
	for c := range ch {
		b.WriteString(c.Text)
		last = c
	}
	return b.String(), last
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New()
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	_, err = New(WithProvider("a", &llm.MockProvider{}), WithProvider("a", &llm.MockProvider{}))
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestExecuteRoutesByHint(t *testing.T) {
	anthropic := &llm.MockProvider{Response: "from anthropic"}
	ollama := &llm.MockProvider{Response: "from ollama"}
	exec, err := New(WithProvider("anthropic", anthropic), WithProvider("ollama", ollama))
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "ollama"}, exec.Providers())

	ch, err := exec.Execute(context.Background(), request("ollama"))
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, "from ollama", text)
	require.True(t, last.Done)
	assert.Equal(t, &engine.Usage{InputTokens: 10, OutputTokens: 10}, last.Usage)
	assert.Empty(t, anthropic.Requests())

	ch, err = exec.Execute(context.Background(), request("unknown"))
	require.NoError(t, err)
	text, _ = collect(t, ch)
	assert.Equal(t, "from anthropic", text, "unknown hints use the first provider")
}

func TestExecuteRendersRolePrompt(t *testing.T) {
	mock := &llm.MockProvider{Response: "ok"}
	exec, err := New(WithProvider("mock", mock), WithTemperature(0.3), WithMaxTokens(512))
	require.NoError(t, err)

	ch, err := exec.Execute(context.Background(), request("mock"))
	require.NoError(t, err)
	collect(t, ch)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	system, user := reqs[0].Messages[0], reqs[0].Messages[1]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Frontend Developer")
	assert.Contains(t, system.Content, "react, css")
	assert.Contains(t, system.Content, "frontend phase")
	assert.Contains(t, user.Content, "Create a landing page")
	assert.Contains(t, user.Content, "task-2-frontend")
	assert.Contains(t, user.Content, "task-1-plan")
	assert.Equal(t, 0.3, reqs[0].Temperature)
	assert.Equal(t, 512, reqs[0].MaxTokens)
}

func TestExecuteFallsBack(t *testing.T) {
	flaky := llm.NewScriptedMockProvider().AddError(errors.New(errors.CodeLLMError, "upstream 502", nil))
	backup := &llm.MockProvider{Response: "backup answer"}
	exec, err := New(WithProvider("flaky", flaky), WithProvider("backup", backup))
	require.NoError(t, err)

	ch, err := exec.Execute(context.Background(), request("flaky"))
	require.NoError(t, err)
	text, _ := collect(t, ch)
	assert.Equal(t, "backup answer", text)
	assert.Equal(t, 1, flaky.CallCount())
}

func TestExecuteFatalStopsFallback(t *testing.T) {
	rejected := llm.NewScriptedMockProvider().AddError(errors.NewFatal(errors.CodeLLMError, "bad request", nil))
	backup := &llm.MockProvider{Response: "unused"}
	exec, err := New(WithProvider("primary", rejected), WithProvider("backup", backup))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), request("primary"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, backup.Requests())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	boom := errors.New(errors.CodeLLMError, "upstream down", nil)
	flaky := llm.NewScriptedMockProvider().AddError(boom).AddError(boom).AddResponse("recovered")
	exec, err := New(
		WithProvider("flaky", flaky),
		WithFallback(false),
		WithBreaker(BreakerConfig{MaxFailures: 2, Timeout: time.Hour}),
	)
	require.NoError(t, err)

	for range 2 {
		_, err := exec.Execute(context.Background(), request("flaky"))
		require.Error(t, err)
	}
	_, err = exec.Execute(context.Background(), request("flaky"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.False(t, errors.IsFatal(err), "an open circuit is retryable")
	assert.Equal(t, 2, flaky.CallCount())

	result := exec.Health().Check(context.Background())
	assert.Equal(t, core.HealthUnhealthy, result.Status)
}

func TestHealthDegradedWhenSomeCircuitsOpen(t *testing.T) {
	boom := errors.New(errors.CodeLLMError, "down", nil)
	exec, err := New(
		WithProvider("down", llm.NewScriptedMockProvider().AddError(boom)),
		WithProvider("up", &llm.MockProvider{Response: "ok"}),
		WithBreaker(BreakerConfig{MaxFailures: 1, Timeout: time.Hour}),
	)
	require.NoError(t, err)
	assert.Equal(t, core.HealthHealthy, exec.Health().Check(context.Background()).Status)

	ch, err := exec.Execute(context.Background(), request("down"))
	require.NoError(t, err)
	collect(t, ch)

	result := exec.Health().Check(context.Background())
	assert.Equal(t, core.HealthDegraded, result.Status)
	assert.Contains(t, result.Message, "down")
}

func TestRateLimitHonoursContext(t *testing.T) {
	exec, err := New(WithProvider("mock", &llm.MockProvider{Response: "ok"}), WithRateLimit(0.001, 1))
	require.NoError(t, err)

	ch, err := exec.Execute(context.Background(), request("mock"))
	require.NoError(t, err)
	collect(t, ch)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = exec.Execute(ctx, request("mock"))
	assert.Equal(t, errors.CodeRateLimit, errors.CodeOf(err))
}

type streamingStub struct {
	chunks []llm.StreamChunk
}

func (s streamingStub) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New(errors.CodeInternal, "not used", nil)
}

func (s streamingStub) ChatStream(context.Context, llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestRelayPassesStreamErrorsAndTruncation(t *testing.T) {
	boom := errors.New(errors.CodeLLMError, "connection reset", nil)
	exec, err := New(WithProvider("stub", streamingStub{chunks: []llm.StreamChunk{{Content: "par"}, {Error: boom}}}))
	require.NoError(t, err)
	ch, err := exec.Execute(context.Background(), request("stub"))
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, "par", text)
	assert.ErrorIs(t, last.Err, boom)

	exec, err = New(WithProvider("stub", streamingStub{chunks: []llm.StreamChunk{{Content: "cut"}}}))
	require.NoError(t, err)
	ch, err = exec.Execute(context.Background(), request("stub"))
	require.NoError(t, err)
	text, last = collect(t, ch)
	assert.Equal(t, "cut", text)
	assert.False(t, last.Done, "a truncated stream is not completed")
}

func TestEchoAnswersEveryTask(t *testing.T) {
	ch, err := Echo{}.Execute(context.Background(), request(""))
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, "frontend-developer handled task-2-frontend: Build the landing page", text)
	require.True(t, last.Done)
	assert.Equal(t, 7, last.Usage.OutputTokens)
}
