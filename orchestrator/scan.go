// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bureau-foundation/scanfleet/agentservice"
	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/selector"
)

// State is the lifecycle state of a scan.
type State string

const (
	StateIdle            State = "idle"
	StateStartingAgents  State = "starting_agents"
	StateCheckingHealth  State = "checking_health"
	StateInjectingTarget State = "injecting_target"
	StateRunning         State = "running"
	StateStopping        State = "stopping"
	StateFailed          State = "failed"
)

// Scan is the handle of a started scan.
type Scan struct {
	ID        string
	Title     string
	State     State
	Network   string
	Services  []agentservice.ServiceHandle
	CreatedAt time.Time
}

// Scan starts every agent of group, waits for the long-running ones to
// become ready, and injects targets. On success the scan is Running
// and its agents work on their own; call [Orchestrator.Stop] with the
// scan id to end it.
//
// On failure the scan's objects are removed before Scan returns, and
// the returned handle is in the Failed state.
func (o *Orchestrator) Scan(ctx context.Context, title string, group *agentdef.Group, targets []selector.Message) (*Scan, error) {
	if group == nil || len(group.Agents) == 0 {
		return nil, errors.New("scan: group has no agents")
	}
	scan := &Scan{
		ID:        o.newID(),
		Title:     title,
		State:     StateIdle,
		CreatedAt: o.clock.Now(),
	}
	logger := o.logger.With("scan_id", scan.ID)
	logger.Info("scan requested", "title", title, "group", group.Name, "agents", len(group.Agents), "targets", len(targets))

	err := o.runScan(ctx, logger, scan, group, targets)
	if err == nil {
		o.transition(logger, scan, StateRunning)
		return scan, nil
	}

	logger.Error("scan failed, reclaiming resources", "state", scan.State, "error", err)
	o.transition(logger, scan, StateStopping)
	// Teardown must run even when ctx is what failed.
	if stopErr := o.Stop(context.WithoutCancel(ctx), scan.ID); stopErr != nil {
		logger.Error("teardown after failure incomplete", "error", stopErr)
		err = errors.Join(err, stopErr)
	}
	o.transition(logger, scan, StateFailed)
	return scan, err
}

func (o *Orchestrator) runScan(ctx context.Context, logger *slog.Logger, scan *Scan, group *agentdef.Group, targets []selector.Message) error {
	o.transition(logger, scan, StateStartingAgents)
	images, err := o.resolver.ResolveAll(ctx, group)
	if err != nil {
		return err
	}

	labels := map[string]string{agentservice.LabelUniverse: scan.ID}
	networkName := "scanfleet_" + scan.ID
	if _, err := o.engine.CreateNetwork(ctx, engine.NetworkSpec{
		Name:       networkName,
		Driver:     o.networkDriver,
		Attachable: true,
		Labels:     labels,
	}); err != nil {
		return fmt.Errorf("creating scan network: %w", err)
	}
	scan.Network = networkName

	for i, agent := range group.Agents {
		settings := o.instanceSettings(agent, scan.ID, strconv.Itoa(i))
		image := images[agentservice.ImageKey(agent.Key, agent.Version)]
		handle, err := o.builder.BuildService(ctx, settings, image, networkName, nil, nil, 0)
		if err != nil {
			return err
		}
		scan.Services = append(scan.Services, handle)
	}

	o.transition(logger, scan, StateCheckingHealth)
	if err := o.waitHealthy(ctx, logger, scan.Services); err != nil {
		return err
	}

	o.transition(logger, scan, StateInjectingTarget)
	return o.inject(ctx, logger, scan, targets)
}

// instanceSettings copies agent and fills in the scan's identity and
// the live bus and cache endpoints the group leaves empty.
func (o *Orchestrator) instanceSettings(agent agentdef.Settings, scanID, instanceID string) agentdef.Settings {
	settings := agent.Clone()
	settings.ScanID = scanID
	settings.InstanceID = instanceID
	if settings.BusBackend == "" {
		settings.BusBackend = o.bus.Backend
	}
	if settings.BusURL == "" {
		settings.BusURL = o.bus.URL
	}
	if settings.BusVirtualHost == "" {
		settings.BusVirtualHost = o.bus.VirtualHost
	}
	if settings.BusExchangeTopic == "" {
		settings.BusExchangeTopic = o.bus.Exchange
	}
	if settings.RedisURL == "" {
		settings.RedisURL = o.redisURL
	}
	return settings
}

func (o *Orchestrator) transition(logger *slog.Logger, scan *Scan, state State) {
	logger.Info("scan state", "from", scan.State, "to", state)
	scan.State = state
	if o.onTransition != nil {
		o.onTransition(scan.ID, state)
	}
}
