package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRosterCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "List the workers available to plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			r, err := loadRoster(cfg.Roster)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if global.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r.All())
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER\tNAME\tPHASE\tPROVIDER\tPRIORITY\tSKILLS")
			for _, c := range r.All() {
				provider := c.Provider
				if provider == "" {
					provider = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					c.Role, c.Name, c.Role.Phase(), provider, c.Priority, strings.Join(c.Skills, ", "))
			}
			return w.Flush()
		},
	}
}
