// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs scans: a group of agent services that
// cooperate over the message bus on one set of targets.
//
// [Orchestrator.Scan] drives a scan through its states:
//
//	Idle -> StartingAgents -> CheckingHealth -> InjectingTarget -> Running
//
// A failure in any of the middle three moves the scan to Stopping,
// which removes everything created so far, and then to Failed.
//
// Every network, configuration artifact, and service a scan creates
// carries the label universe=<scan id>. [Orchestrator.Stop] lists each
// object kind and removes those whose label equals the id, so teardown
// needs no in-memory record and works after an orchestrator restart.
// Objects created concurrently with a Stop for the same id may
// survive it.
//
// Readiness gating polls the task list of every long-running service
// until the running task count equals the replica count, with
// exponential backoff per service and one wall-clock bound for the
// whole gate. One-shot services are not gated.
//
// Targets reach the fleet through the injector: a one-shot agent that
// receives the serialized targets as a configuration artifact mounted
// at [agentdef.TargetsMountPath] and publishes them on the bus.
package orchestrator
