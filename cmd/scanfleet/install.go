// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
)

func installCommand() *cli.Command {
	var flags runtimeFlags
	return &cli.Command{
		Name:    "install",
		Summary: "Pull the images the runtime needs",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			s, err := flags.open("install")
			if err != nil {
				return err
			}
			defer s.Close()
			return s.orchestrator.Install(ctx)
		},
	}
}
