// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentservice turns one agent instance of a scan into a
// container service.
//
// An agent image carries its manifest ([agentdef.Definition]) as the
// image label [agentdef.DefinitionLabel]. [ImageResolver] reads the
// local image list once and produces a [ResolvedImage] value holding
// the image reference and the parsed manifest. [Resolve] merges the
// instance [agentdef.Settings] over that manifest field by field:
// for mounts, constraints, memory limit, restart policy, and open
// ports, a non-empty instance value wins, then the manifest value,
// then the hard default in [Defaults].
//
// [Builder.BuildService] creates the two configuration artifacts every
// agent container receives (the CBOR settings blob and the manifest
// text), named by a BLAKE3 hash of image, runtime, and instance id,
// then creates the service with the computed endpoint and health
// probe. Every object it creates carries the [LabelUniverse] label set
// to the instance's scan id, which is the only state teardown relies
// on.
//
// Mount strings are parsed by [ParseMount], a table keyed on the
// number of colon-separated segments.
package agentservice
