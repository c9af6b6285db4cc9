// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
)

func canRunCommand() *cli.Command {
	var (
		flags     runtimeFlags
		groupPath string
	)
	return &cli.Command{
		Name:    "can-run",
		Summary: "Check whether a group can be scanned on this engine",
		Description: `Check that the engine is reachable, that this node manages a cluster
(initializing one if cluster mode is off), and, with --group, that every
agent image and its manifest are present. Exits 2 when the scan is not
feasible.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("can-run", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&groupPath, "group", "g", "", "agent group file")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var group *agentdef.Group
			if groupPath != "" {
				loaded, err := agentdef.LoadGroup(groupPath)
				if err != nil {
					return err
				}
				group = loaded
			}
			s, err := flags.open("can-run")
			if err != nil {
				return err
			}
			defer s.Close()

			ok, err := s.orchestrator.CanRun(ctx, group)
			if !ok {
				fmt.Fprintf(os.Stderr, "cannot run: %v\n", err)
				return &cli.ExitError{Code: cli.ExitCode(err)}
			}
			fmt.Fprintln(os.Stdout, "ok")
			return nil
		},
	}
}
