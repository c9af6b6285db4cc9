// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/scanfleet/agentservice"
	"github.com/bureau-foundation/scanfleet/engine"
)

// waitHealthy polls every long-running service in parallel until each
// has as many running tasks as replicas. The whole gate is bounded by
// the health timeout.
func (o *Orchestrator) waitHealthy(ctx context.Context, logger *slog.Logger, services []agentservice.ServiceHandle) error {
	var gated []agentservice.ServiceHandle
	for _, service := range services {
		if service.LongRunning {
			gated = append(gated, service)
		} else {
			logger.Debug("skipping readiness check of one-shot service", "service", service.Name)
		}
	}
	if len(gated) == 0 {
		return nil
	}

	return o.bounded(ctx, "health check", o.health.Timeout, func(ctx context.Context) error {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, service := range gated {
			group.Go(func() error {
				return o.waitServiceReady(groupCtx, logger, service)
			})
		}
		return group.Wait()
	})
}

func (o *Orchestrator) waitServiceReady(ctx context.Context, logger *slog.Logger, service agentservice.ServiceHandle) error {
	delay := o.health.InitialDelay
	var running int
	for attempt := 1; ; attempt++ {
		tasks, err := o.engine.ServiceTasks(ctx, service.ID)
		if err != nil {
			return err
		}
		running = 0
		var taskError string
		for _, task := range tasks {
			if !task.Current() {
				continue
			}
			switch task.State {
			case engine.TaskRunning:
				running++
			case engine.TaskFailed, engine.TaskRejected:
				taskError = task.Error
			}
		}
		if uint64(running) == service.Replicas {
			logger.Info("service ready", "service", service.Name, "replicas", service.Replicas, "checks", attempt)
			return nil
		}
		// A failed task the engine will still restart only explains a
		// gate that ran out of checks.
		if attempt >= o.health.Retries {
			return &HealthError{Service: service.Name, Running: running, Replicas: service.Replicas, Attempts: attempt, TaskError: taskError}
		}
		logger.Debug("service not ready", "service", service.Name, "running", running, "replicas", service.Replicas, "retry_in", delay)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > o.health.MaxDelay {
			delay = o.health.MaxDelay
		}
	}
}

// bounded runs fn with a context that is cancelled with a
// [*TimeoutError] cause once timeout elapses on the orchestrator's
// clock. A zero timeout means no bound.
func (o *Orchestrator) bounded(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	boundedCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timeoutErr := &TimeoutError{Operation: operation, Timeout: timeout}
	timer := o.clock.AfterFunc(timeout, func() { cancel(timeoutErr) })
	defer timer.Stop()

	err := fn(boundedCtx)
	if err != nil && errors.Is(context.Cause(boundedCtx), timeoutErr) {
		return timeoutErr
	}
	return err
}

// sleep waits for d on the orchestrator's clock, returning early with
// the context's cause if it is cancelled.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-o.clock.After(d):
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
