// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/engine/enginetest"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
)

func newTestBuilder(t *testing.T, eng engine.Engine) *Builder {
	t.Helper()
	builder, err := NewBuilder(BuilderConfig{
		Engine:   eng,
		Runtime:  "local",
		Defaults: DefaultDefaults(),
		Probe:    DefaultProbeConfig(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return builder
}

func probeImage(t *testing.T) ResolvedImage {
	t.Helper()
	definition, err := agentdef.ParseDefinition([]byte(probeManifest))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	return ResolvedImage{
		Reference:      "agent_acme_probe:1.0.0",
		Key:            "agent/acme/probe",
		Version:        "1.0.0",
		Definition:     definition,
		DefinitionText: []byte(probeManifest),
	}
}

func TestBuildService(t *testing.T) {
	eng := enginetest.New()
	builder := newTestBuilder(t, eng)
	settings := agentdef.Settings{
		Key:        "agent/acme/probe",
		MemLimit:   700000,
		Mounts:     []string{"/var/run/docker.sock:/var/run/docker.sock"},
		OpenPorts:  []agentdef.OpenPort{{SourcePort: 80, DestinationPort: 8080}},
		ScanID:     "scan-1",
		InstanceID: "0",
	}
	extraMount := engine.Mount{Type: engine.MountVolume, Source: "shared", Target: "/shared"}

	handle, err := builder.BuildService(context.Background(), settings, probeImage(t), "net-scan-1", nil, []engine.Mount{extraMount}, 2)
	if err != nil {
		t.Fatalf("BuildService: %v", err)
	}
	if handle.Replicas != 2 || !handle.LongRunning || len(handle.ConfigIDs) != 2 {
		t.Errorf("handle = %+v", handle)
	}

	spec, ok := eng.Service(handle.Name)
	if !ok {
		t.Fatalf("service %s not created", handle.Name)
	}
	if spec.MemoryLimit != 700000 {
		t.Errorf("MemoryLimit = %d, want instance value 700000", spec.MemoryLimit)
	}
	if spec.RestartPolicy != agentdef.RestartAny {
		t.Errorf("RestartPolicy = %q, want default", spec.RestartPolicy)
	}
	if len(spec.Mounts) != 2 || spec.Mounts[0].Type != engine.MountBind || spec.Mounts[1] != extraMount {
		t.Errorf("Mounts = %+v", spec.Mounts)
	}
	if spec.Endpoint.Mode != engine.EndpointVIP || len(spec.Endpoint.Ports) != 1 ||
		spec.Endpoint.Ports[0] != (engine.PortMapping{Target: 80, Published: 8080}) {
		t.Errorf("Endpoint = %+v", spec.Endpoint)
	}
	if len(spec.Networks) != 1 || spec.Networks[0] != "net-scan-1" {
		t.Errorf("Networks = %v", spec.Networks)
	}
	if spec.Healthcheck == nil || !strings.Contains(spec.Healthcheck.Test[1], "http://0.0.0.0:5000/status") {
		t.Errorf("Healthcheck = %+v", spec.Healthcheck)
	}

	for name, labels := range eng.Labels() {
		if len(labels) != 1 || labels[LabelUniverse] != "scan-1" {
			t.Errorf("%s labels = %v, want only universe=scan-1", name, labels)
		}
	}

	settingsName := ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "local", InstanceKey("scan-1", "0"))
	blob, ok := eng.ConfigData(settingsName)
	if !ok {
		t.Fatalf("settings artifact %s not created", settingsName)
	}
	decoded, err := agentdef.DecodeSettings(blob)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if decoded.ScanID != "scan-1" || decoded.MemLimit != 700000 || decoded.Replicas != 2 || decoded.RestartPolicy != agentdef.RestartAny {
		t.Errorf("settings blob = %+v", decoded)
	}
	definitionName := ArtifactName(ArtifactDefinition, "agent_acme_probe:1.0.0", "local", InstanceKey("scan-1", "0"))
	if text, ok := eng.ConfigData(definitionName); !ok || string(text) != probeManifest {
		t.Errorf("definition artifact = %q, %v", text, ok)
	}
	if spec.Configs[0].Target != agentdef.SettingsMountPath || spec.Configs[1].Target != agentdef.DefinitionMountPath {
		t.Errorf("Configs = %+v", spec.Configs)
	}
}

func TestBuildServiceDefaultsToRoundRobin(t *testing.T) {
	eng := enginetest.New()
	builder := newTestBuilder(t, eng)
	settings := agentdef.Settings{Key: "agent/acme/probe", ScanID: "scan-1", InstanceID: "0", Replicas: 3}
	handle, err := builder.BuildService(context.Background(), settings, probeImage(t), "", nil, nil, 0)
	if err != nil {
		t.Fatalf("BuildService: %v", err)
	}
	spec, _ := eng.Service(handle.Name)
	if spec.Endpoint.Mode != engine.EndpointDNSRR || len(spec.Endpoint.Ports) != 0 {
		t.Errorf("Endpoint = %+v, want dnsrr without ports", spec.Endpoint)
	}
	if spec.Replicas != 3 {
		t.Errorf("Replicas = %d, want settings value 3", spec.Replicas)
	}
	if spec.MemoryLimit != 420000 {
		t.Errorf("MemoryLimit = %d, want manifest value 420000", spec.MemoryLimit)
	}
	if spec.Networks != nil {
		t.Errorf("Networks = %v, want none", spec.Networks)
	}
}

func TestBuildServiceReplacesExistingArtifacts(t *testing.T) {
	eng := enginetest.New()
	builder := newTestBuilder(t, eng)
	settingsName := ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "local", InstanceKey("scan-2", "0"))
	staleID, err := eng.CreateConfig(context.Background(), engine.ConfigSpec{
		Name:   settingsName,
		Data:   []byte("stale"),
		Labels: map[string]string{LabelUniverse: "old-scan"},
	})
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}

	settings := agentdef.Settings{Key: "agent/acme/probe", ScanID: "scan-2", InstanceID: "0"}
	if _, err := builder.BuildService(context.Background(), settings, probeImage(t), "", nil, nil, 1); err != nil {
		t.Fatalf("BuildService: %v", err)
	}
	configs, _ := eng.ListConfigs(context.Background())
	for _, config := range configs {
		if config.ID == staleID {
			t.Fatal("stale artifact was not removed")
		}
		if config.Labels[LabelUniverse] != "scan-2" {
			t.Errorf("config %s labels = %v", config.Name, config.Labels)
		}
	}
	if data, _ := eng.ConfigData(settingsName); string(data) == "stale" {
		t.Error("artifact content was not replaced")
	}
}

func TestBuildServiceErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing definition", func(t *testing.T) {
		builder := newTestBuilder(t, enginetest.New())
		settings := agentdef.Settings{Key: "agent/acme/probe", ScanID: "scan-1"}
		_, err := builder.BuildService(ctx, settings, ResolvedImage{Reference: "agent_acme_probe:1.0.0"}, "", nil, nil, 1)
		if !IsMissingDefinition(err) {
			t.Fatalf("error = %v, want MissingDefinitionError", err)
		}
	})

	t.Run("no scan id", func(t *testing.T) {
		builder := newTestBuilder(t, enginetest.New())
		_, err := builder.BuildService(ctx, agentdef.Settings{Key: "agent/acme/probe"}, probeImage(t), "", nil, nil, 1)
		if err == nil {
			t.Fatal("expected error without scan id")
		}
	})

	t.Run("bad mount", func(t *testing.T) {
		eng := enginetest.New()
		builder := newTestBuilder(t, eng)
		settings := agentdef.Settings{Key: "agent/acme/probe", ScanID: "scan-1", Mounts: []string{"nope"}}
		if _, err := builder.BuildService(ctx, settings, probeImage(t), "", nil, nil, 1); err == nil {
			t.Fatal("expected mount error")
		}
		if objects := eng.Objects(); len(objects) != 0 {
			t.Errorf("objects created before mount validation: %v", objects)
		}
	})

	t.Run("engine failure", func(t *testing.T) {
		eng := enginetest.New()
		engineErr := errors.New("daemon exploded")
		eng.Fail("CreateService", engineErr)
		builder := newTestBuilder(t, eng)
		settings := agentdef.Settings{Key: "agent/acme/probe", ScanID: "scan-1"}
		_, err := builder.BuildService(ctx, settings, probeImage(t), "", nil, nil, 1)
		if !errors.Is(err, engineErr) {
			t.Fatalf("error = %v, want wrapped engine error", err)
		}
	})
}

func TestArtifactName(t *testing.T) {
	a := ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "local", "0")
	if a != ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "local", "0") {
		t.Error("ArtifactName is not deterministic")
	}
	if !strings.HasPrefix(a, "settings_") || len(a) > maxObjectName {
		t.Errorf("ArtifactName = %q", a)
	}
	distinct := map[string]bool{
		a: true,
		ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "local", "1"):   true,
		ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.0", "remote", "0"):  true,
		ArtifactName(ArtifactSettings, "agent_acme_probe:1.0.", "0local", "0"):   true,
		ArtifactName(ArtifactDefinition, "agent_acme_probe:1.0.0", "local", "0"): true,
	}
	if len(distinct) != 5 {
		t.Errorf("ArtifactName collisions: %v", distinct)
	}
}

func TestServiceName(t *testing.T) {
	name := ServiceName("Port Probe", "6f1c2d3e-aaaa-bbbb-cccc-000000000000", "2")
	if name != "port_probe_6f1c2d3e_2" {
		t.Errorf("ServiceName = %q", name)
	}
	long := ServiceName(strings.Repeat("x", 100), "6f1c2d3e", "0")
	if len(long) > maxObjectName {
		t.Errorf("long ServiceName has %d characters", len(long))
	}
	if long == ServiceName(strings.Repeat("x", 100), "6f1c2d3e", "1") {
		t.Error("long names for distinct instances collide")
	}
}

func TestProbe(t *testing.T) {
	probe := Probe("agent.local", 8000, ProbeConfig{Retries: 5})
	want := `test "$(wget -q -O- http://agent.local:8000/status)" = "OK"`
	if probe.Test[0] != "CMD-SHELL" || probe.Test[1] != want || probe.Retries != 5 {
		t.Errorf("Probe = %+v", probe)
	}
}
