package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/config"
	orcherrors "github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/mcp"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

type serveOptions struct {
	transport string
	addr      string
	watch     bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the orchestrator as MCP tools",
		Long: `Serve the orchestrate, get_plan, list_plans, cancel_plan and health tools
over the Model Context Protocol, on stdio or streamable HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "stdio or http")
	cmd.Flags().StringVar(&opts.addr, "addr", ":8090", "listen address for the http transport")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "reload the log level when the config file changes")
	return cmd
}

func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	// stdout carries the protocol on stdio; logs always go to stderr.
	hub := broadcast.NewHub()
	a, err := newApp(ctx, cfg, os.Stderr, hub)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if opts.watch && global.configPath != "" {
		w, err := config.WatchCLI(ctx, global.configArgs(), config.WithWatchLogger(a.logger))
		if err != nil {
			return newConfigError(err, global.configPath)
		}
		defer w.Stop()
		w.OnChange(func(c *config.Config) {
			telemetry.SetLogLevel(c.Log.Level)
			a.logger.Info("serve.config.applied", slog.String("log_level", c.Log.Level))
		})
	}

	srv := mcp.NewServer("orchestra", version, a.orch,
		mcp.WithRoster(a.roster),
		mcp.WithHealth(a.health),
		mcp.WithEvents(hub),
		mcp.WithLogger(a.logger),
	)

	switch opts.transport {
	case "stdio":
		a.logger.Info("serve.start", slog.String("transport", "stdio"))
		return srv.ServeStdio()
	case "http":
		httpSrv := srv.HTTPServer()
		errCh := make(chan error, 1)
		go func() { errCh <- httpSrv.Start(opts.addr) }()
		a.logger.Info("serve.start", slog.String("transport", "http"), slog.String("addr", opts.addr))
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
	}
	return orcherrors.Newf(orcherrors.CodeInvalidInput, "unknown transport %q", opts.transport)
}
