// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/scanfleet/agentservice"
	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/clock"
)

// BusEndpoint is the bus every agent of a scan connects to. The
// orchestrator writes it into each agent's settings unless the group
// sets its own.
type BusEndpoint struct {
	Backend     string
	URL         string
	VirtualHost string
	Exchange    string
}

// HealthPolicy bounds readiness gating.
type HealthPolicy struct {
	// Retries is the number of task-list polls per service.
	Retries int
	// InitialDelay doubles after each poll, up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Timeout bounds the whole gate.
	Timeout time.Duration
}

// Config configures an [Orchestrator].
type Config struct {
	Engine  engine.Engine
	Builder *agentservice.Builder
	Clock   clock.Clock
	Logger  *slog.Logger

	Bus      BusEndpoint
	RedisURL string

	// NetworkDriver is the driver of the per-scan network.
	NetworkDriver string

	Health HealthPolicy

	// InjectImage is the injector image reference.
	InjectImage string
	// InjectTimeout bounds the wait for the injector to complete.
	InjectTimeout time.Duration

	// NewID generates scan ids. Defaults to random UUIDs.
	NewID func() string

	// OnTransition, when set, is called on every scan state change.
	OnTransition func(scanID string, state State)
}

// Orchestrator runs and tears down scans against one container
// engine.
type Orchestrator struct {
	engine        engine.Engine
	builder       *agentservice.Builder
	resolver      *agentservice.ImageResolver
	clock         clock.Clock
	logger        *slog.Logger
	bus           BusEndpoint
	redisURL      string
	networkDriver string
	health        HealthPolicy
	injectImage   string
	injectTimeout time.Duration
	newID         func() string
	onTransition  func(string, State)
}

// New returns an orchestrator. Engine, Builder, and Logger are
// required.
func New(config Config) (*Orchestrator, error) {
	if config.Engine == nil {
		return nil, errors.New("orchestrator: Engine is required")
	}
	if config.Builder == nil {
		return nil, errors.New("orchestrator: Builder is required")
	}
	if config.Logger == nil {
		return nil, errors.New("orchestrator: Logger is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	if config.NetworkDriver == "" {
		config.NetworkDriver = "overlay"
	}
	if config.Health.Retries < 1 {
		config.Health.Retries = 1
	}
	return &Orchestrator{
		engine:        config.Engine,
		builder:       config.Builder,
		resolver:      agentservice.NewImageResolver(config.Engine),
		clock:         config.Clock,
		logger:        config.Logger,
		bus:           config.Bus,
		redisURL:      config.RedisURL,
		networkDriver: config.NetworkDriver,
		health:        config.Health,
		injectImage:   config.InjectImage,
		injectTimeout: config.InjectTimeout,
		newID:         config.NewID,
		onTransition:  config.OnTransition,
	}, nil
}

// CanRun reports whether group can be scanned here: the engine is
// reachable and usable, this node manages a cluster, and every agent
// image is present with its manifest. When false, the error is a
// [*FeasibilityError] naming the reason.
//
// An inactive cluster is initialized as a single-node cluster; that
// is the only side effect.
func (o *Orchestrator) CanRun(ctx context.Context, group *agentdef.Group) (bool, error) {
	if err := o.engine.Ping(ctx); err != nil {
		return false, &FeasibilityError{Reason: "engine unreachable", Err: err}
	}
	info, err := o.engine.Info(ctx)
	if err != nil {
		return false, &FeasibilityError{Reason: "reading engine state", Err: err}
	}
	if !info.ClusterActive {
		o.logger.Info("cluster mode inactive, initializing")
		if err := o.engine.InitCluster(ctx); err != nil {
			return false, &FeasibilityError{Reason: "initializing cluster", Err: err}
		}
	} else if !info.Manager {
		return false, &FeasibilityError{Reason: "this node is not a cluster manager"}
	}
	if group == nil {
		return true, nil
	}
	if _, err := o.resolver.ResolveAll(ctx, group); err != nil {
		return false, &FeasibilityError{Reason: "resolving agent images", Err: err}
	}
	return true, nil
}

// Install pulls the images the runtime itself needs. Images already
// present are left alone, so repeated calls are cheap.
func (o *Orchestrator) Install(ctx context.Context) error {
	if o.injectImage == "" {
		return nil
	}
	_, err := o.engine.InspectImage(ctx, o.injectImage)
	if err == nil {
		o.logger.Debug("injector image present", "image", o.injectImage)
		return nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("install: %w", err)
	}
	o.logger.Info("pulling injector image", "image", o.injectImage)
	if err := o.engine.PullImage(ctx, o.injectImage); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	return nil
}

// List returns the ids of scans that have objects in the engine,
// sorted.
func (o *Orchestrator) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	collect := func(labels map[string]string) {
		if id, ok := labels[agentservice.LabelUniverse]; ok && id != "" {
			seen[id] = true
		}
	}

	services, err := o.engine.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	for _, service := range services {
		collect(service.Spec.Labels)
	}
	networks, err := o.engine.ListNetworks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}
	for _, network := range networks {
		collect(network.Labels)
	}
	configs, err := o.engine.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing configs: %w", err)
	}
	for _, config := range configs {
		collect(config.Labels)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stop removes every service, configuration artifact, and network
// labeled with scanID, in that order, so nothing is removed while a
// service still references it. Objects that vanish concurrently are
// ignored. Stop with no matching objects succeeds and removes nothing.
func (o *Orchestrator) Stop(ctx context.Context, scanID string) error {
	if scanID == "" {
		return errors.New("stop: scan id is required")
	}
	logger := o.logger.With("scan_id", scanID)
	var errs []error
	removed := 0

	services, err := o.engine.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("stop %s: listing services: %w", scanID, err)
	}
	for _, service := range services {
		if !labeled(service.Spec.Labels, scanID) {
			continue
		}
		if err := ignoreNotFound(o.engine.RemoveService(ctx, service.ID)); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("removed service", "service", service.Spec.Name)
		removed++
	}

	configs, err := o.engine.ListConfigs(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("stop %s: listing configs: %w", scanID, err))...)
	}
	for _, config := range configs {
		if !labeled(config.Labels, scanID) {
			continue
		}
		if err := ignoreNotFound(o.engine.RemoveConfig(ctx, config.ID)); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("removed config", "config", config.Name)
		removed++
	}

	networks, err := o.engine.ListNetworks(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("stop %s: listing networks: %w", scanID, err))...)
	}
	for _, network := range networks {
		if !labeled(network.Labels, scanID) {
			continue
		}
		if err := ignoreNotFound(o.engine.RemoveNetwork(ctx, network.ID)); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("removed network", "network", network.Name)
		removed++
	}

	logger.Info("scan stopped", "removed", removed, "errors", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("stop %s: %w", scanID, errors.Join(errs...))
	}
	return nil
}

func labeled(labels map[string]string, scanID string) bool {
	value, ok := labels[agentservice.LabelUniverse]
	return ok && value == scanID
}

func ignoreNotFound(err error) error {
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}
