// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the container engine boundary of the scan runtime.
//
// [Engine] is the small set of object operations the orchestrator and
// the service builder need: create, list, and remove services,
// networks, and configuration artifacts, inspect images, and query a
// service's tasks. Every create call accepts arbitrary labels; the scan
// runtime tags everything with the scan's universe label and reclaims
// by listing and filtering on it.
//
// [Docker] implements Engine against a Docker daemon in swarm mode.
// The enginetest package provides an in-memory implementation for
// tests.
package engine
