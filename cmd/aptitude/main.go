// Command aptitude runs behavioral tests against AI coding agents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tatimblin/aptitude/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError prints err unless the command already wrote it as JSON,
// and returns the exit code.
func reportError(w io.Writer, err error) int {
	if !cli.Reported(err) {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return cli.GetExitCode(err)
}
