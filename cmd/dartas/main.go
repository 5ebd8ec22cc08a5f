package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	dserrors "dartas/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration problems and 1 for everything else.
func exitCode(err error) int {
	if dserrors.HasCode(err, dserrors.InvalidConfig) {
		return 2
	}
	return 1
}
