package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/history"
)

type historyOptions struct {
	commType string
	worker   string
	limit    int
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history [plan-id]",
		Short: "List archived plans, or the communications of one plan",
		Args:  cobra.MaximumNArgs(1),
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
			if err := a.openStore(); err != nil {
				return err
			}
			if a.store == nil {
				return newInvalidArgumentError("store.driver", "history is disabled with the none driver")
			}

			filter := history.Filter{
				Type:   core.CommunicationType(opts.commType),
				Worker: core.NormalizeRole(opts.worker),
				Limit:  opts.limit,
			}
			if role, ok := a.roster.Resolve(opts.worker); ok {
				filter.Worker = role
			}
			if len(args) == 0 {
				return listArchived(cmd.Context(), cmd.OutOrStdout(), a.store, filter, global.json)
			}
			filter.PlanID = args[0]
			return showPlanHistory(cmd.Context(), cmd.OutOrStdout(), a.store, filter, global.json)
		},
	}
	cmd.Flags().StringVar(&opts.commType, "type", "", "only communications of this type")
	cmd.Flags().StringVar(&opts.worker, "worker", "", "only status updates of this worker")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func listArchived(ctx context.Context, out io.Writer, store historyStore, filter history.Filter, asJSON bool) error {
	records, err := store.Plans(ctx, filter)
	if err != nil {
		return err
	}
	if asJSON {
		return encodeJSON(out, records)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tOUTCOME\tITERATIONS\tTASKS\tFINISHED\tREQUEST")
	for _, rec := range records {
		if rec.Plan == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.Plan.ID, rec.Outcome, rec.Iterations, len(rec.Plan.Tasks), rec.FinishedAt.Format("2006-01-02 15:04:05"), firstLine(rec.Plan.Request))
	}
	return w.Flush()
}

func showPlanHistory(ctx context.Context, out io.Writer, store historyStore, filter history.Filter, asJSON bool) error {
	comms, err := store.Communications(ctx, history.Filter{PlanID: filter.PlanID, Type: filter.Type, Limit: filter.Limit})
	if err != nil {
		return err
	}
	statuses, err := store.Statuses(ctx, history.Filter{PlanID: filter.PlanID, Worker: filter.Worker, Limit: filter.Limit})
	if err != nil {
		return err
	}
	rec, err := store.Plan(ctx, filter.PlanID)
	archived := err == nil
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}
	if !archived && len(comms) == 0 && len(statuses) == 0 {
		return newNotFoundError("plan", filter.PlanID, err)
	}

	if asJSON {
		doc := map[string]any{"communications": comms, "statuses": statuses}
		if archived {
			doc["record"] = rec
		}
		return encodeJSON(out, doc)
	}
	if archived {
		fmt.Fprintf(out, "%s %s (%s after %d iterations)\n\n", bold("Plan"), filter.PlanID, rec.Outcome, rec.Iterations)
	}
	for i := range comms {
		fmt.Fprintf(out, "%s %s %s → %s  %s\n",
			faint(comms[i].Timestamp.Format("15:04:05")),
			paintType(comms[i].Type), comms[i].From, comms[i].To, firstLine(comms[i].Message))
	}
	if filter.Worker != "" {
		fmt.Fprintln(out)
		for _, st := range statuses {
			fmt.Fprintf(out, "%s %-12s %3d%%  %s\n",
				faint(st.UpdatedAt.Format("15:04:05")), st.State, st.Progress, st.CurrentTask)
		}
	}
	return nil
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
