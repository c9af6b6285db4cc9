// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/selector"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:    "scan",
		Summary: "Start, stop, and list scans",
		Subcommands: []*cli.Command{
			scanRunCommand(),
			scanStopCommand(),
			scanListCommand(),
		},
	}
}

func scanRunCommand() *cli.Command {
	var (
		flags       runtimeFlags
		groupPath   string
		title       string
		args        []string
		descriptors string
		targets     targetInputs
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Deploy an agent group and inject targets",
		Description: `Deploy every agent of a group as a service on a fresh scan network,
wait for the long-running agents to become healthy, and inject the
targets. The scan id is printed on stdout once the scan is running.`,
		Usage: "scanfleet scan run --group FILE [--ip ADDR]... [--domain NAME]... [--targets FILE] [flags]",
		Examples: []cli.Example{
			{
				Description: "Scan one host with the web group",
				Command:     "scanfleet scan run --group groups/web.yaml --ip 10.0.0.5",
			},
			{
				Description: "Override an agent argument",
				Command:     "scanfleet scan run --group groups/web.yaml --domain example.com --arg depth:number=2",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&groupPath, "group", "g", "", "agent group file (required)")
			flagSet.StringVarP(&title, "title", "t", "", "scan title")
			flagSet.StringArrayVar(&args, "arg", nil, "agent argument name[:type]=value, appended to every agent (repeatable)")
			flagSet.StringVar(&descriptors, "descriptors", "", "compiled FileDescriptorSet with extra message schemas")
			flagSet.StringArrayVar(&targets.ips, "ip", nil, "IP address or CIDR target (repeatable)")
			flagSet.StringArrayVar(&targets.domains, "domain", nil, "domain name target (repeatable)")
			flagSet.StringVar(&targets.file, "targets", "", "YAML file of {selector, data} targets")
			return flagSet
		},
		Run: func(ctx context.Context, positional []string) error {
			if len(positional) > 0 {
				return fmt.Errorf("unexpected argument %q", positional[0])
			}
			if groupPath == "" {
				return errors.New("--group is required")
			}
			group, err := agentdef.LoadGroup(groupPath)
			if err != nil {
				return err
			}
			parsedArgs := make([]agentdef.Arg, 0, len(args))
			for _, spec := range args {
				arg, err := agentdef.ParseArg(spec)
				if err != nil {
					return err
				}
				parsedArgs = append(parsedArgs, arg)
			}
			group.AppendArgs(parsedArgs)

			registry, err := selector.Builtin()
			if err != nil {
				return err
			}
			if descriptors != "" {
				if err := registry.LoadDescriptorSet(descriptors); err != nil {
					return err
				}
			}
			messages, err := targets.build(registry)
			if err != nil {
				return err
			}
			if title == "" {
				title = group.Name
			}

			s, err := flags.open("scan/run")
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.orchestrator.CanRun(ctx, group); err != nil {
				return err
			}
			scan, err := s.orchestrator.Scan(ctx, title, group, messages)
			if err != nil {
				return err
			}
			s.logger.Info("scan running", "scan_id", scan.ID, "services", len(scan.Services), "network", scan.Network)
			fmt.Fprintln(os.Stdout, scan.ID)
			return nil
		},
	}
}

func scanStopCommand() *cli.Command {
	var flags runtimeFlags
	return &cli.Command{
		Name:    "stop",
		Summary: "Remove every object of a scan",
		Usage:   "scanfleet scan stop <scan-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: scanfleet scan stop <scan-id>")
			}
			s, err := flags.open("scan/stop")
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.orchestrator.Stop(ctx, args[0]); err != nil {
				return err
			}
			s.logger.Info("scan stopped", "scan_id", args[0])
			return nil
		},
	}
}

func scanListCommand() *cli.Command {
	var flags runtimeFlags
	return &cli.Command{
		Name:    "list",
		Summary: "List scans with objects in the engine",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			s, err := flags.open("scan/list")
			if err != nil {
				return err
			}
			defer s.Close()
			ids, err := s.orchestrator.List(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(os.Stdout, id)
			}
			return nil
		},
	}
}
