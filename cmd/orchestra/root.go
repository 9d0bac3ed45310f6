package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/orchestra/pkg/config"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	profile    string
	sets       []string
	json       bool
	noColor    bool
}

// configArgs renders the options in the form config.LoadWithCLI parses.
func (g *globalOptions) configArgs() []string {
	var args []string
	if g.configPath != "" {
		args = append(args, "--config", g.configPath)
	}
	if g.profile != "" {
		args = append(args, "--profile", g.profile)
	}
	for _, s := range g.sets {
		args = append(args, "--set", s)
	}
	return args
}

func (g *globalOptions) load() (*config.Config, error) {
	cfg, err := config.LoadWithCLI(g.configArgs())
	if err != nil {
		return nil, newConfigError(err, g.configPath)
	}
	return cfg, nil
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	global := &globalOptions{}
	root := &cobra.Command{
		Use:   "orchestra",
		Short: "Plan requests into task graphs and run them across LLM workers",
		Long: `Orchestra classifies a request, picks the workers it needs from the
roster, builds a dependency-ordered task graph and executes it, streaming
every hand-off and status change as it happens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&global.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&global.profile, "profile", "", "profile file to layer over the config (config.<profile>.yaml)")
	flags.StringArrayVar(&global.sets, "set", nil, "override a config key, as key=value (repeatable)")
	flags.BoolVar(&global.json, "json", false, "print machine-readable JSON")
	flags.BoolVar(&global.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(global),
		newPlanCmd(global),
		newRosterCmd(global),
		newHistoryCmd(global),
		newServeCmd(global),
		newHealthCmd(global),
		newVersionCmd(),
	)
	return root, global
}
