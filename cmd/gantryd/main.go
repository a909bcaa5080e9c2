// Package main is the entrypoint for gantryd, the deploy daemon.
// It serves the control-plane API, the app reverse proxy, and runs the
// deploy pipeline against the local Docker engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gantryhq/gantry/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:  "gantryd",
		Setup: setup,
	}, nil)
}
