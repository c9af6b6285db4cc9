// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentdef defines the three documents that describe a scan's
// agents.
//
// [Definition] is the agent manifest. It is written by the agent
// author, baked into the agent image as the "agent_definition" label at
// build time, and read-only afterwards. It declares the agent's input
// and output selectors and its default deployment parameters.
//
// [Settings] are the per-instance parameters a caller chooses when it
// declares a scan: which agent and version, typed arguments, bus and
// cache endpoints, and overrides for the manifest's deployment
// defaults. The orchestrator fills in the live bus and cache endpoints
// before deployment; after that a Settings value is not modified. It
// reaches the agent container as a CBOR blob (see [EncodeSettings]).
//
// [Group] is a named collection of Settings describing one scan.
// Groups are loaded from YAML (see [ParseGroup]).
//
// Override resolution (instance value, else manifest value, else
// default) is implemented by the agentservice package, field by field;
// this package only carries the values.
package agentdef
