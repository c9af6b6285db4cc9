// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
)

// LabelUniverse is the label carrying the scan id on every object a
// scan creates.
const LabelUniverse = "universe"

// Artifact kinds, used as name prefixes.
const (
	ArtifactSettings   = "settings"
	ArtifactDefinition = "definition"
)

// Health probe defaults.
const (
	DefaultHealthcheckHost = agentdef.DefaultHealthcheckHost
	DefaultHealthcheckPort = agentdef.DefaultHealthcheckPort
)

// ProbeConfig controls the command-based container health probe.
type ProbeConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// DefaultProbeConfig returns a probe that starts after 10s and polls
// every 30s.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		StartPeriod: 10 * time.Second,
		Retries:     3,
	}
}

// BuilderConfig configures a [Builder].
type BuilderConfig struct {
	Engine engine.Engine
	// Runtime names the scan runtime. It is part of every artifact
	// name, so two runtimes sharing an engine do not collide.
	Runtime  string
	Defaults Defaults
	Probe    ProbeConfig
	Logger   *slog.Logger
}

// Builder creates agent services.
type Builder struct {
	engine   engine.Engine
	runtime  string
	defaults Defaults
	probe    ProbeConfig
	logger   *slog.Logger
}

// NewBuilder returns a builder. Engine and Logger are required.
func NewBuilder(config BuilderConfig) (*Builder, error) {
	if config.Engine == nil {
		return nil, errors.New("agentservice: Engine is required")
	}
	if config.Logger == nil {
		return nil, errors.New("agentservice: Logger is required")
	}
	if config.Runtime == "" {
		config.Runtime = "local"
	}
	return &Builder{
		engine:   config.Engine,
		runtime:  config.Runtime,
		defaults: config.Defaults,
		probe:    config.Probe,
		logger:   config.Logger,
	}, nil
}

// ServiceHandle identifies a created agent service.
type ServiceHandle struct {
	ID       string
	Name     string
	Key      string
	Replicas uint64
	// LongRunning is false for one-shot agents, which are excluded
	// from readiness gating.
	LongRunning bool
	ConfigIDs   []string
}

// BuildService merges settings over the image's manifest and creates
// the agent's service on network. extraConfigs and extraMounts are
// attached in addition to the resolved ones. replicas overrides the
// settings' replica count when non-zero; the result is at least one.
//
// settings.ScanID labels every created object. settings.InstanceID
// makes the artifact and service names unique within the scan.
func (b *Builder) BuildService(
	ctx context.Context,
	settings agentdef.Settings,
	image ResolvedImage,
	network string,
	extraConfigs []engine.ConfigFile,
	extraMounts []engine.Mount,
	replicas uint64,
) (ServiceHandle, error) {
	if image.Definition == nil {
		return ServiceHandle{}, &MissingDefinitionError{Image: image.Reference}
	}
	if settings.ScanID == "" {
		return ServiceHandle{}, fmt.Errorf("building %s: settings carry no scan id", settings.Key)
	}
	resolved := Resolve(settings, image.Definition, b.defaults)
	mounts, err := ParseMounts(resolved.Mounts)
	if err != nil {
		return ServiceHandle{}, fmt.Errorf("building %s: %w", settings.Key, err)
	}
	mounts = append(mounts, extraMounts...)

	if replicas == 0 {
		replicas = settings.Replicas
	}
	if replicas == 0 {
		replicas = 1
	}

	labels := map[string]string{LabelUniverse: settings.ScanID}
	logger := b.logger.With("agent", settings.Key, "scan_id", settings.ScanID, "instance_id", settings.InstanceID)

	// The blob carries the resolved values so the agent sees what the
	// engine was asked to run.
	instance := settings.Clone()
	instance.Args = resolved.Args
	instance.Mounts = resolved.Mounts
	instance.Constraints = resolved.Constraints
	instance.MemLimit = resolved.MemLimit
	instance.RestartPolicy = resolved.RestartPolicy
	instance.OpenPorts = resolved.OpenPorts
	instance.Replicas = replicas
	blob, err := agentdef.EncodeSettings(instance)
	if err != nil {
		return ServiceHandle{}, err
	}

	instanceKey := InstanceKey(settings.ScanID, settings.InstanceID)
	settingsName := ArtifactName(ArtifactSettings, image.Reference, b.runtime, instanceKey)
	settingsID, err := b.replaceConfig(ctx, logger, settingsName, blob, labels)
	if err != nil {
		return ServiceHandle{}, err
	}
	definitionName := ArtifactName(ArtifactDefinition, image.Reference, b.runtime, instanceKey)
	definitionID, err := b.replaceConfig(ctx, logger, definitionName, image.DefinitionText, labels)
	if err != nil {
		return ServiceHandle{}, err
	}

	configs := []engine.ConfigFile{
		{ConfigID: settingsID, ConfigName: settingsName, Target: agentdef.SettingsMountPath},
		{ConfigID: definitionID, ConfigName: definitionName, Target: agentdef.DefinitionMountPath},
	}
	configs = append(configs, extraConfigs...)

	name := image.Definition.ServiceName
	if name == "" {
		name = ServiceName(image.Definition.Name, settings.ScanID, settings.InstanceID)
	}

	spec := engine.ServiceSpec{
		Name:   name,
		Image:  image.Reference,
		Labels: labels,
		Env: []string{
			"SCANFLEET_SCAN_ID=" + settings.ScanID,
			"SCANFLEET_INSTANCE_ID=" + settings.InstanceID,
			"SCANFLEET_SETTINGS=" + agentdef.SettingsMountPath,
			"SCANFLEET_DEFINITION=" + agentdef.DefinitionMountPath,
		},
		Mounts:        mounts,
		Configs:       configs,
		Constraints:   resolved.Constraints,
		MemoryLimit:   resolved.MemLimit,
		RestartPolicy: resolved.RestartPolicy,
		Replicas:      replicas,
		Endpoint:      Endpoint(resolved.OpenPorts),
		Healthcheck:   Probe(settings.HealthcheckHost, settings.HealthcheckPort, b.probe),
	}
	if network != "" {
		spec.Networks = []string{network}
	}

	serviceID, err := b.engine.CreateService(ctx, spec)
	if err != nil {
		return ServiceHandle{}, fmt.Errorf("building %s: %w", settings.Key, err)
	}
	logger.Info("agent service created",
		"service", name,
		"service_id", serviceID,
		"image", image.Reference,
		"replicas", replicas,
		"restart_policy", resolved.RestartPolicy,
	)
	return ServiceHandle{
		ID:          serviceID,
		Name:        name,
		Key:         settings.Key,
		Replicas:    replicas,
		LongRunning: resolved.LongRunning(),
		ConfigIDs:   []string{settingsID, definitionID},
	}, nil
}

// InstanceKey identifies an agent instance across scans.
func InstanceKey(scanID, instanceID string) string {
	return scanID + "/" + instanceID
}

// replaceConfig creates a configuration artifact, first deleting any
// existing artifact of the same name. Artifacts are immutable in the
// engine, so there is no update path.
func (b *Builder) replaceConfig(ctx context.Context, logger *slog.Logger, name string, data []byte, labels map[string]string) (string, error) {
	existing, err := b.engine.ListConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("listing configs: %w", err)
	}
	for _, config := range existing {
		if config.Name != name {
			continue
		}
		logger.Info("replacing existing config", "config", name, "config_id", config.ID)
		if err := b.engine.RemoveConfig(ctx, config.ID); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return "", fmt.Errorf("removing config %s: %w", name, err)
		}
	}
	id, err := b.engine.CreateConfig(ctx, engine.ConfigSpec{Name: name, Data: data, Labels: labels})
	if err != nil {
		return "", fmt.Errorf("creating config %s: %w", name, err)
	}
	return id, nil
}

// Endpoint publishes each open port through a virtual IP. With no open
// ports the service uses DNS round-robin and publishes nothing.
func Endpoint(openPorts []agentdef.OpenPort) engine.Endpoint {
	if len(openPorts) == 0 {
		return engine.Endpoint{Mode: engine.EndpointDNSRR}
	}
	endpoint := engine.Endpoint{Mode: engine.EndpointVIP}
	for _, port := range openPorts {
		endpoint.Ports = append(endpoint.Ports, engine.PortMapping{
			Target:    port.SourcePort,
			Published: port.DestinationPort,
		})
	}
	return endpoint
}

// Probe returns the health probe for an agent serving its status page
// on host:port. Empty values use [DefaultHealthcheckHost] and
// [DefaultHealthcheckPort]. The probe passes when the page body is OK.
func Probe(host string, port uint32, config ProbeConfig) *engine.Healthcheck {
	if host == "" {
		host = DefaultHealthcheckHost
	}
	if port == 0 {
		port = DefaultHealthcheckPort
	}
	return &engine.Healthcheck{
		Test: []string{
			"CMD-SHELL",
			fmt.Sprintf(`test "$(wget -q -O- http://%s:%d/status)" = "OK"`, host, port),
		},
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		StartPeriod: config.StartPeriod,
		Retries:     config.Retries,
	}
}
