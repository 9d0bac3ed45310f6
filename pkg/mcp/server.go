// Package mcp exposes the orchestrator as Model Context Protocol tools so
// agent hosts can submit requests and follow their plans.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/orchestrator"
	"github.com/jllopis/orchestra/pkg/plans"
	"github.com/jllopis/orchestra/pkg/roster"
)

// Tool names.
const (
	ToolOrchestrate = "orchestrate"
	ToolGetPlan     = "get_plan"
	ToolListPlans   = "list_plans"
	ToolCancelPlan  = "cancel_plan"
	ToolHealth      = "health"
	ToolWatchPlan   = "watch_plan"
)

const (
	defaultWatch = 10 * time.Second
	maxWatch     = 2 * time.Minute
)

// Server wraps the mcp-go server with the orchestration tools.
type Server struct {
	mcpServer *server.MCPServer
	orch      *orchestrator.Orchestrator
	roster    *roster.Roster
	health    *core.HealthRegistry
	events    *broadcast.Hub
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRoster sets the roster that worker filters are resolved against.
func WithRoster(r *roster.Roster) Option {
	return func(s *Server) { s.roster = r }
}

// WithHealth exposes the registry through the health tool.
func WithHealth(h *core.HealthRegistry) Option {
	return func(s *Server) { s.health = h }
}

// WithEvents enables the watch_plan tool. hub must be one of the
// broadcaster's sinks.
func WithEvents(hub *broadcast.Hub) Option {
	return func(s *Server) { s.events = hub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP server backed by orch.
func NewServer(name, version string, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		orch:   orch,
		roster: roster.Default(),
		health: core.NewHealthRegistry(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.register()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) register() {
	s.mcpServer.AddTool(mcp.NewTool(ToolOrchestrate,
		mcp.WithDescription("Plan a request into a task graph and run it across the worker roster"),
		mcp.WithString("request", mcp.Required(), mcp.Description("What to build")),
		mcp.WithString("workers", mcp.Description("Comma separated worker keys to restrict the roster")),
		mcp.WithBoolean("wait", mcp.Description("Block until the plan finishes")),
		mcp.WithBoolean("dry_run", mcp.Description("Return the plan without running it")),
	), s.orchestrate)

	s.mcpServer.AddTool(mcp.NewTool(ToolGetPlan,
		mcp.WithDescription("Return a plan with every task's status and result"),
		mcp.WithString("plan_id", mcp.Required()),
	), s.getPlan)

	s.mcpServer.AddTool(mcp.NewTool(ToolListPlans,
		mcp.WithDescription("List registered plans"),
		mcp.WithBoolean("active_only", mcp.Description("Only plans still executing")),
	), s.listPlans)

	s.mcpServer.AddTool(mcp.NewTool(ToolCancelPlan,
		mcp.WithDescription("Cancel a running plan"),
		mcp.WithString("plan_id", mcp.Required()),
	), s.cancelPlan)

	s.mcpServer.AddTool(mcp.NewTool(ToolHealth,
		mcp.WithDescription("Report component health"),
	), s.checkHealth)

	if s.events != nil {
		s.mcpServer.AddTool(mcp.NewTool(ToolWatchPlan,
			mcp.WithDescription("Collect a plan's live events until it finishes or the timeout passes"),
			mcp.WithString("plan_id", mcp.Required()),
			mcp.WithNumber("timeout_seconds", mcp.Description("How long to wait, 10 by default, 120 at most")),
		), s.watchPlan)
	}
}

func (s *Server) orchestrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request, err := req.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	available, err := s.available(req.GetString("workers", ""))
	if err != nil {
		return toolError(err), nil
	}

	switch {
	case req.GetBool("dry_run", false):
		plan, err := s.orch.Preview(ctx, request, available)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(plans.Describe(plan))
	case req.GetBool("wait", false):
		plan, report, err := s.orch.RunSync(ctx, request, available)
		if plan == nil {
			return toolError(err), nil
		}
		out := map[string]any{"plan": plans.Describe(plan), "report": report}
		if err != nil {
			out["error"] = err.Error()
		}
		return jsonResult(out)
	default:
		plan, err := s.orch.Submit(ctx, request, available)
		if err != nil {
			return toolError(err), nil
		}
		s.logger.InfoContext(ctx, "mcp.orchestrate.submitted", slog.String("plan_id", plan.ID))
		return jsonResult(plans.Describe(plan))
	}
}

func (s *Server) available(workers string) (*roster.Roster, error) {
	if strings.TrimSpace(workers) == "" {
		return s.roster, nil
	}
	var keys []string
	for _, k := range strings.Split(workers, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	sub, err := s.roster.Subset(keys...)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid worker filter", err)
	}
	return sub, nil
}

func (s *Server) getPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, err := s.orch.GetPlan(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(plans.Describe(plan))
}

func (s *Server) listPlans(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows := s.orch.Plans()
	if req.GetBool("active_only", false) {
		active := rows[:0]
		for _, row := range rows {
			if row.Active {
				active = append(active, row)
			}
		}
		rows = active
	}
	return jsonResult(rows)
}

func (s *Server) cancelPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.Cancel(id); err != nil {
		return toolError(err), nil
	}
	s.logger.InfoContext(ctx, "mcp.plan.cancelled", slog.String("plan_id", id))
	return mcp.NewToolResultText("cancellation requested for " + id), nil
}

func (s *Server) checkHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, overall := s.health.CheckAll(ctx)
	return jsonResult(map[string]any{"status": overall, "components": results})
}

func (s *Server) watchPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.orch.GetPlan(ctx, id); err != nil {
		return toolError(err), nil
	}
	timeout := defaultWatch
	if secs := req.GetFloat("timeout_seconds", 0); secs > 0 {
		timeout = min(time.Duration(secs*float64(time.Second)), maxWatch)
	}

	// Subscribe before checking for completion so no event is missed.
	events, unsubscribe := s.events.Subscribe(id, 256)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = s.orch.Wait(ctx, id)
	}()

	var seen []broadcast.Event
	done := false
loop:
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev)
		case <-finished:
			done = ctx.Err() == nil
			break loop
		}
	}
	for drained := false; !drained; {
		select {
		case ev := <-events:
			seen = append(seen, ev)
		default:
			drained = true
		}
	}
	return jsonResult(map[string]any{"plan_id": id, "finished": done, "events": seen})
}

// toolError reports err as a tool-level failure so the calling model sees it.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to encode tool result", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// ServeStdio serves the tools on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPServer returns a streamable HTTP transport for the tools.
func (s *Server) HTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcpServer)
}
