// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command scanfleet runs agent-group scans on a container cluster.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
)

func main() {
	if err := run(); err != nil {
		code := cli.ExitCode(err)
		// An ExitError means the command already printed its output.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root().Execute(ctx, os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name:        "scanfleet",
		Description: "Run groups of scanning agents as services on a container cluster.",
		Subcommands: []*cli.Command{
			scanCommand(),
			canRunCommand(),
			installCommand(),
			versionCommand(),
		},
	}
}
