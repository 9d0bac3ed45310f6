package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/planner"
	"github.com/jllopis/orchestra/pkg/plans"
)

type runOptions struct {
	workers []string
	timeout time.Duration
	quiet   bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Plan a request and execute it, streaming worker events",
		Example: `  orchestra run "Create a landing page with a signup form"
  orchestra run --workers frontend,qa "Add a pricing page"
  orchestra run --set executor.mode=echo "Build a REST API with auth"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd.OutOrStdout(), global, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringSliceVarP(&opts.workers, "workers", "w", nil, "restrict the roster to these worker keys")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "cancel the run after this long")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not stream events")
	return cmd
}

func runRun(ctx context.Context, out io.Writer, global *globalOptions, opts *runOptions, request string) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	var sinks []broadcast.Sink
	if !global.json && !opts.quiet {
		sinks = append(sinks, newEventRenderer(out))
	}
	a, err := newApp(ctx, cfg, os.Stderr, sinks...)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	available, err := a.available(opts.workers)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	plan, report, runErr := a.orch.RunSync(ctx, request, available)
	if plan == nil {
		return runErr
	}
	if global.json {
		if err := writeRunJSON(out, plan, report, runErr); err != nil {
			return err
		}
	} else {
		printReport(out, plan, report)
	}
	return runErr
}

func writeRunJSON(out io.Writer, plan *core.OrchestrationPlan, report *engine.Report, runErr error) error {
	doc := map[string]any{"plan": plans.Describe(plan), "report": report}
	if runErr != nil {
		doc["error"] = runErr.Error()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func newPlanCmd(global *globalOptions) *cobra.Command {
	var workers []string
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Show the task graph for a request without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			a, err := newBase(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			available, err := a.available(workers)
			if err != nil {
				return err
			}
			request := strings.Join(args, " ")
			if err := a.guard.Check(cmd.Context(), request); err != nil {
				return err
			}
			p := planner.New(planner.WithRoster(a.roster), planner.WithLogger(a.logger))
			plan, err := p.Plan(cmd.Context(), request, available)
			if err != nil {
				return err
			}
			if global.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plans.Describe(plan))
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&workers, "workers", "w", nil, "restrict the roster to these worker keys")
	return cmd
}
