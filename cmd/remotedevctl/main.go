// Command remotedevctl submits and inspects jobs on a remotedev server
// over its gRPC listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		os.Interrupt,
	)
	defer cancel()

	return newCLI().rootCmd().ExecuteContext(ctx)
}
