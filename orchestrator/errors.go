// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"time"
)

// FeasibilityError reports why a scan cannot run in the current
// environment.
type FeasibilityError struct {
	Reason string
	Err    error
}

func (e *FeasibilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot run scan: %s: %v", e.Reason, e.Err)
	}
	return "cannot run scan: " + e.Reason
}

func (e *FeasibilityError) Unwrap() error { return e.Err }

// Kind classifies the error for exit-code mapping.
func (e *FeasibilityError) Kind() string { return "feasibility" }

// HealthError reports a service that did not become ready within the
// polling budget, or whose tasks failed.
type HealthError struct {
	Service  string
	Running  int
	Replicas uint64
	Attempts int
	// TaskError is the engine's message for a failed task, if any.
	TaskError string
}

func (e *HealthError) Error() string {
	if e.TaskError != "" {
		return fmt.Sprintf("service %s: task failed: %s", e.Service, e.TaskError)
	}
	return fmt.Sprintf("service %s: %d of %d replicas running after %d checks",
		e.Service, e.Running, e.Replicas, e.Attempts)
}

// Kind classifies the error for exit-code mapping.
func (e *HealthError) Kind() string { return "health" }

// TimeoutError reports a bounded wait that ran out.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Timeout)
}

// Kind classifies the error for exit-code mapping.
func (e *TimeoutError) Kind() string { return "timeout" }
