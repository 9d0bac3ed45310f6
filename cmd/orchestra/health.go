// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
)

func newHealthCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the history store and the executor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			results, overall := a.health.CheckAll(cmd.Context())
			for _, r := range results {
				a.metrics.RecordHealth(cmd.Context(), r)
			}

			out := cmd.OutOrStdout()
			if global.json {
				if err := encodeJSON(out, map[string]any{"status": overall, "components": results}); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "COMPONENT\tSTATUS\tMESSAGE")
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.Component, paintHealth(r.Status), r.Message)
				}
				_ = w.Flush()
				fmt.Fprintf(out, "\noverall: %s\n", paintHealth(overall))
			}
			if overall == core.HealthUnhealthy {
				return errors.New(errors.CodeInternal, "one or more components are unhealthy", nil)
			}
			return nil
		},
	}
}
