// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/clock"
	"github.com/bureau-foundation/scanfleet/lib/config"
	"github.com/bureau-foundation/scanfleet/lib/selector"
)

// NewBroker returns the broker for a configured backend. name
// identifies the client to the broker.
func NewBroker(backend, url, virtualHost, name string) (Broker, error) {
	switch backend {
	case config.BusAMQP, "":
		return &AMQPBroker{URL: url, VirtualHost: virtualHost, ConnectionName: name}, nil
	case config.BusJetStream:
		return &JetStreamBroker{URL: url, Name: name}, nil
	case config.BusMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", backend)
	}
}

// RuntimeOptions locate an agent container's instance documents.
// Zero-valued paths default to the standard mount points.
type RuntimeOptions struct {
	SettingsPath   string
	DefinitionPath string

	// Registry defaults to the built-in schemas. DescriptorSet, when
	// set, adds the agent's own compiled schemas to it.
	Registry      *selector.Registry
	DescriptorSet string

	// Bus supplies the pool, priority, reconnect, concurrency, and
	// watchdog tunables. The endpoint fields are taken from the
	// instance settings when present there.
	Bus config.BusConfig

	// Broker overrides the broker built from the endpoint.
	Broker Broker

	Clock  clock.Clock
	Logger *slog.Logger
}

// Runtime is everything a containerized agent needs at startup.
type Runtime struct {
	Settings   agentdef.Settings
	Definition *agentdef.Definition
	Agent      *Agent

	// Status serves the agent's health page on the settings'
	// health-check address while Start runs. Nil disables it.
	Status *StatusServer
}

// LoadAgentRuntime reads the instance settings blob and agent manifest
// mounted into the container and constructs the agent's bus transport.
// The returned agent is not yet initialized.
func LoadAgentRuntime(options RuntimeOptions) (*Runtime, error) {
	if options.SettingsPath == "" {
		options.SettingsPath = agentdef.SettingsMountPath
	}
	if options.DefinitionPath == "" {
		options.DefinitionPath = agentdef.DefinitionMountPath
	}

	settings, err := agentdef.ReadSettingsFile(options.SettingsPath)
	if err != nil {
		return nil, err
	}
	definition, err := agentdef.ReadDefinitionFile(options.DefinitionPath)
	if err != nil {
		return nil, err
	}

	registry := options.Registry
	if registry == nil {
		registry, err = selector.Builtin()
		if err != nil {
			return nil, fmt.Errorf("loading built-in schemas: %w", err)
		}
	}
	if options.DescriptorSet != "" {
		if err := registry.LoadDescriptorSet(options.DescriptorSet); err != nil {
			return nil, err
		}
	}

	busConfig := options.Bus
	setIfPresent(&busConfig.Backend, settings.BusBackend)
	setIfPresent(&busConfig.URL, settings.BusURL)
	setIfPresent(&busConfig.VirtualHost, settings.BusVirtualHost)
	setIfPresent(&busConfig.Exchange, settings.BusExchangeTopic)
	if busConfig.URL == "" && busConfig.Backend != config.BusMemory && options.Broker == nil {
		return nil, errors.New("agent runtime: no bus url in settings or config")
	}

	broker := options.Broker
	if broker == nil {
		broker, err = NewBroker(busConfig.Backend, busConfig.URL, busConfig.VirtualHost, definition.Name)
		if err != nil {
			return nil, err
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scan_id", settings.ScanID, "instance_id", settings.InstanceID)

	agent, err := NewAgent(AgentConfig{
		Name:              definition.Name,
		Broker:            broker,
		Registry:          registry,
		Exchange:          busConfig.Exchange,
		MaxMessages:       busConfig.MaxMessages,
		MaxPriority:       busConfig.MaxPriority,
		MaxConnections:    busConfig.MaxConnections,
		MaxChannels:       busConfig.MaxChannels,
		Concurrency:       busConfig.Concurrency,
		ReconnectAttempts: busConfig.ReconnectAttempts,
		ReconnectDelay:    busConfig.ReconnectDelay,
		SilenceWindow:     busConfig.SilenceWindow,
		Clock:             options.Clock,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Settings:   settings,
		Definition: definition,
		Agent:      agent,
		Status:     NewStatusServer(settings.HealthcheckAddress(), agent.Healthy, logger),
	}, nil
}

// Start initializes the agent, subscribes handler to the manifest's
// input selectors, and runs until ctx is cancelled, serving the status
// page alongside. A manifest without input selectors runs
// publish-only.
func (r *Runtime) Start(ctx context.Context, handler Handler) error {
	if err := r.Agent.Init(ctx); err != nil {
		return err
	}
	defer r.Agent.Close()
	if len(r.Definition.InSelectors) > 0 {
		if err := r.Agent.Subscribe(r.Definition.InSelectors, handler); err != nil {
			return err
		}
	}
	if r.Status == nil {
		return r.Agent.Run(ctx)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, stopStatus := context.WithCancel(groupCtx)
	group.Go(func() error {
		defer stopStatus()
		return r.Agent.Run(runCtx)
	})
	group.Go(func() error { return r.Status.Serve(runCtx) })
	return group.Wait()
}

func setIfPresent(target *string, value string) {
	if value != "" {
		*target = value
	}
}
