package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
)

var (
	faint   = color.New(color.Faint).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	blue    = color.New(color.FgBlue).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
)

// eventRenderer is a broadcast.Sink that prints communications as they
// happen. Status updates are shown only when a worker becomes blocked.
type eventRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func newEventRenderer(out io.Writer) *eventRenderer {
	return &eventRenderer{out: out}
}

func (r *eventRenderer) Deliver(_ context.Context, ev broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case ev.Communication != nil:
		c := ev.Communication
		_, err := fmt.Fprintf(r.out, "%s %s %s → %s  %s\n",
			faint(c.Timestamp.Format("15:04:05")),
			paintType(c.Type),
			c.From, c.To,
			firstLine(c.Message),
		)
		return err
	case ev.Status != nil && ev.Status.State == core.WorkerBlocked:
		st := ev.Status
		_, err := fmt.Fprintf(r.out, "%s %s %s  %s\n",
			faint(st.UpdatedAt.Format("15:04:05")),
			yellow("[blocked]"),
			st.Worker,
			st.BlockingReason,
		)
		return err
	}
	return nil
}

func paintType(t core.CommunicationType) string {
	label := fmt.Sprintf("%-15s", "["+string(t)+"]")
	switch t {
	case core.CommRequest:
		return cyan(label)
	case core.CommResponse:
		return green(label)
	case core.CommHandoff:
		return blue(label)
	case core.CommCollaboration:
		return magenta(label)
	case core.CommError:
		return red(label)
	case core.CommCompletion:
		return bold(green(label))
	}
	return faint(label)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func paintStatus(s core.TaskStatus) string {
	switch s {
	case core.TaskStatusCompleted:
		return green(string(s))
	case core.TaskStatusFailed:
		return red(string(s))
	case core.TaskStatusInProgress:
		return yellow(string(s))
	}
	return faint(string(s))
}

func paintOutcome(o engine.Outcome) string {
	switch o {
	case engine.OutcomeCompleted:
		return green(string(o))
	case engine.OutcomeCancelled:
		return yellow(string(o))
	}
	return red(string(o))
}

func paintHealth(s core.HealthStatus) string {
	switch s {
	case core.HealthHealthy:
		return green(string(s))
	case core.HealthDegraded:
		return yellow(string(s))
	}
	return red(string(s))
}

// printPlan writes the plan header and its task graph.
func printPlan(out io.Writer, plan *core.OrchestrationPlan) {
	fmt.Fprintf(out, "%s %s\n", bold("Plan"), plan.ID)
	fmt.Fprintf(out, "  intent:     %s\n", plan.Intent)
	fmt.Fprintf(out, "  complexity: %s\n", plan.Complexity)
	fmt.Fprintf(out, "  strategy:   %s\n", plan.Strategy)
	fmt.Fprintf(out, "  estimate:   %s\n", plan.EstimatedDuration)
	fmt.Fprintf(out, "  phases:     %d/%d\n\n", plan.CurrentPhase, plan.TotalPhases)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tWORKER\tPRIORITY\tSTATUS\tRETRIES\tDEPENDS ON")
	for _, t := range plan.Tasks {
		deps := "-"
		if len(t.Dependencies) > 0 {
			deps = strings.Join(t.Dependencies, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			t.ID, t.AssignedTo, t.Priority, paintStatus(t.Status), t.RetryCount, t.MaxRetries, deps)
	}
	_ = w.Flush()
}

// printReport writes the run summary that follows the event stream.
func printReport(out io.Writer, plan *core.OrchestrationPlan, report *engine.Report) {
	fmt.Fprintln(out)
	printPlan(out, plan)
	if report == nil {
		return
	}
	fmt.Fprintf(out, "\n%s %s after %d iterations in %s (%d completed, %d failed, %d pending)\n",
		bold("Outcome"),
		paintOutcome(report.Outcome),
		report.Iterations,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		report.Counts.Completed, report.Counts.Failed, report.Counts.Pending,
	)
}
