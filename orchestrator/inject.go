// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/scanfleet/agentservice"
	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/selector"
)

// InjectorKey is the agent key the injector runs under.
const InjectorKey = "agent/scanfleet/inject"

// injectorInstance is the instance id of the injector within a scan.
const injectorInstance = "inject"

// inject bundles targets into a scan-labeled configuration artifact,
// runs the injector once with the bundle mounted, and waits for it to
// complete within the inject timeout. No targets means nothing to do.
func (o *Orchestrator) inject(ctx context.Context, logger *slog.Logger, scan *Scan, targets []selector.Message) error {
	if len(targets) == 0 {
		logger.Info("no targets to inject")
		return nil
	}
	if o.injectImage == "" {
		return errors.New("inject: no injector image configured")
	}

	bundle := make([]agentdef.Target, 0, len(targets))
	for _, target := range targets {
		bundle = append(bundle, agentdef.Target{Selector: target.Selector(), Raw: target.Raw()})
	}
	data, err := agentdef.EncodeTargets(bundle)
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}

	image, err := o.injectorImage(ctx)
	if err != nil {
		return err
	}

	bundleName := agentservice.ArtifactName("targets", image.Reference, scan.ID, injectorInstance)
	bundleID, err := o.engine.CreateConfig(ctx, engine.ConfigSpec{
		Name:   bundleName,
		Data:   data,
		Labels: map[string]string{agentservice.LabelUniverse: scan.ID},
	})
	if err != nil {
		return fmt.Errorf("inject: creating target bundle: %w", err)
	}

	settings := o.instanceSettings(agentdef.Settings{
		Key:           InjectorKey,
		RestartPolicy: agentdef.RestartNone,
	}, scan.ID, injectorInstance)
	bundleFile := engine.ConfigFile{ConfigID: bundleID, ConfigName: bundleName, Target: agentdef.TargetsMountPath}
	handle, err := o.builder.BuildService(ctx, settings, image, scan.Network, []engine.ConfigFile{bundleFile}, nil, 1)
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	scan.Services = append(scan.Services, handle)
	logger.Info("injector started", "service", handle.Name, "targets", len(bundle), "bundle_bytes", len(data))

	return o.bounded(ctx, "target injection", o.injectTimeout, func(ctx context.Context) error {
		return o.waitCompleted(ctx, logger, handle)
	})
}

// injectorImage inspects the configured injector image and parses its
// manifest.
func (o *Orchestrator) injectorImage(ctx context.Context) (agentservice.ResolvedImage, error) {
	inspected, err := o.engine.InspectImage(ctx, o.injectImage)
	if err != nil {
		return agentservice.ResolvedImage{}, fmt.Errorf("inject: %w", err)
	}
	text, ok := inspected.Labels[agentdef.DefinitionLabel]
	if !ok || text == "" {
		return agentservice.ResolvedImage{}, &agentservice.MissingDefinitionError{Image: o.injectImage}
	}
	definition, err := agentdef.ParseDefinition([]byte(text))
	if err != nil {
		return agentservice.ResolvedImage{}, fmt.Errorf("inject: image %s: %w", o.injectImage, err)
	}
	return agentservice.ResolvedImage{
		Reference:      o.injectImage,
		ID:             inspected.ID,
		Key:            InjectorKey,
		Definition:     definition,
		DefinitionText: []byte(text),
	}, nil
}

// waitCompleted polls a one-shot service until all its tasks are
// complete. A failed task ends the wait with a [*HealthError].
func (o *Orchestrator) waitCompleted(ctx context.Context, logger *slog.Logger, service agentservice.ServiceHandle) error {
	delay := o.health.InitialDelay
	for attempt := 1; ; attempt++ {
		tasks, err := o.engine.ServiceTasks(ctx, service.ID)
		if err != nil {
			return err
		}
		completed := 0
		for _, task := range tasks {
			switch task.State {
			case engine.TaskComplete:
				completed++
			case engine.TaskFailed, engine.TaskRejected:
				return &HealthError{Service: service.Name, Replicas: service.Replicas, Attempts: attempt, TaskError: task.Error}
			}
		}
		if len(tasks) > 0 && uint64(completed) >= service.Replicas {
			logger.Info("injection complete", "service", service.Name, "checks", attempt)
			return nil
		}
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > o.health.MaxDelay {
			delay = o.health.MaxDelay
		}
	}
}
