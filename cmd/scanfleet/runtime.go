// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scanfleet/agentservice"
	"github.com/bureau-foundation/scanfleet/cmd/scanfleet/cli"
	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/config"
	"github.com/bureau-foundation/scanfleet/orchestrator"
)

// runtimeFlags are the flags every engine-facing command shares.
type runtimeFlags struct {
	configPath string
	verbose    bool
}

func (f *runtimeFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.configPath, "config", "c", "", "path to scanfleet.yaml (default: $SCANFLEET_CONFIG)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads and validates the runtime configuration.
func (f *runtimeFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// session is an orchestrator connected to the configured engine.
type session struct {
	config       *config.Config
	logger       *slog.Logger
	docker       *engine.Docker
	orchestrator *orchestrator.Orchestrator
}

// open connects to the engine and builds the orchestrator. The caller
// must Close the session.
func (f *runtimeFlags) open(command string) (*session, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(f.verbose).With("command", command)

	docker, err := engine.NewDocker(cfg.Engine.Host, logger)
	if err != nil {
		return nil, err
	}
	orch, err := newOrchestrator(cfg, docker, logger)
	if err != nil {
		return nil, errors.Join(err, docker.Close())
	}
	return &session{config: cfg, logger: logger, docker: docker, orchestrator: orch}, nil
}

func (s *session) Close() error {
	return s.docker.Close()
}

// newOrchestrator wires a builder and orchestrator over eng from cfg.
func newOrchestrator(cfg *config.Config, eng engine.Engine, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	builder, err := agentservice.NewBuilder(agentservice.BuilderConfig{
		Engine:   eng,
		Runtime:  cfg.Engine.Runtime,
		Defaults: agentservice.DefaultDefaults(),
		Probe: agentservice.ProbeConfig{
			Interval:    cfg.Probe.Interval,
			Timeout:     cfg.Probe.Timeout,
			StartPeriod: cfg.Probe.StartPeriod,
			Retries:     cfg.Probe.Retries,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Engine:  eng,
		Builder: builder,
		Logger:  logger,
		Bus: orchestrator.BusEndpoint{
			Backend:     cfg.Bus.Backend,
			URL:         cfg.Bus.URL,
			VirtualHost: cfg.Bus.VirtualHost,
			Exchange:    cfg.Bus.Exchange,
		},
		RedisURL:      cfg.RedisURL,
		NetworkDriver: cfg.Engine.NetworkDriver,
		Health: orchestrator.HealthPolicy{
			Retries:      cfg.Health.Retries,
			InitialDelay: cfg.Health.InitialDelay,
			MaxDelay:     cfg.Health.MaxDelay,
			Timeout:      cfg.Health.Timeout,
		},
		InjectImage:   cfg.Inject.Image,
		InjectTimeout: cfg.Inject.Timeout,
	})
}
