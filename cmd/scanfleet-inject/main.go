// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command scanfleet-inject is the one-shot agent that seeds a scan. It
// reads the target bundle mounted into its container, publishes every
// target on the scan's bus, and exits 0 once the broker has accepted
// them all.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scanfleet/bus"
	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/config"
	"github.com/bureau-foundation/scanfleet/lib/process"
	"github.com/bureau-foundation/scanfleet/lib/selector"
	"github.com/bureau-foundation/scanfleet/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options locate the injector's mounted documents.
type options struct {
	settingsPath   string
	definitionPath string
	targetsPath    string
	descriptors    string
	verbose        bool

	// broker overrides the broker built from the instance settings.
	broker bus.Broker
	logger *slog.Logger
}

func run() error {
	var opts options
	var showVersion bool
	flagSet := pflag.NewFlagSet("scanfleet-inject", pflag.ContinueOnError)
	flagSet.StringVar(&opts.settingsPath, "settings", envOr("SCANFLEET_SETTINGS", agentdef.SettingsMountPath), "instance settings blob")
	flagSet.StringVar(&opts.definitionPath, "definition", envOr("SCANFLEET_DEFINITION", agentdef.DefinitionMountPath), "agent manifest")
	flagSet.StringVar(&opts.targetsPath, "targets", agentdef.TargetsMountPath, "target bundle")
	flagSet.StringVar(&opts.descriptors, "descriptors", "", "compiled FileDescriptorSet with extra message schemas")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Println(version.Binary("scanfleet-inject"))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.logger = cli.NewCommandLogger(opts.verbose).With("component", "inject")
	opts.logger.Info("injector starting", "version", version.Info())
	return inject(ctx, opts)
}

// inject publishes every target in the bundle. Targets with a known
// schema are decoded first, and one that fails to decode aborts the
// run before anything further is published. Targets encoded against a
// schema the injector was not given are forwarded as they are.
func inject(ctx context.Context, opts options) error {
	registry, err := selector.Builtin()
	if err != nil {
		return err
	}
	runtime, err := bus.LoadAgentRuntime(bus.RuntimeOptions{
		SettingsPath:   opts.settingsPath,
		DefinitionPath: opts.definitionPath,
		Registry:       registry,
		DescriptorSet:  opts.descriptors,
		Bus:            config.Default().Bus,
		Broker:         opts.broker,
		Logger:         opts.logger,
	})
	if err != nil {
		return err
	}
	agent := runtime.Agent
	defer agent.Close()

	targets, err := agentdef.ReadTargetsFile(opts.targetsPath)
	if err != nil {
		return err
	}
	if err := agent.Init(ctx); err != nil {
		return err
	}

	logger := opts.logger.With("scan_id", runtime.Settings.ScanID)
	for i, target := range targets {
		message, err := targetMessage(registry, target)
		if err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if err := agent.PublishMessage(ctx, message, 0); err != nil {
			return fmt.Errorf("publishing target %d: %w", i, err)
		}
		logger.Debug("target published", "selector", target.Selector, "bytes", len(target.Raw))
	}
	logger.Info("targets injected", "count", len(targets))
	return nil
}

func targetMessage(registry *selector.Registry, target agentdef.Target) (selector.Message, error) {
	message, err := registry.NewMessageFromRaw(target.Selector, target.Raw)
	var noSchema *selector.NoMatchingSchemaError
	if errors.As(err, &noSchema) {
		return selector.OpaqueMessage(target.Selector, target.Raw), nil
	}
	return message, err
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
