// Command orchestra plans free-form requests into task graphs and runs them
// across a roster of LLM-backed workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, global := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(root.ErrOrStderr(), err, global.json)
		stop()
		os.Exit(exitCode(err))
	}
}
