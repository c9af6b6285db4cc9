// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package selector implements the selector-routed message protocol
// shared by every scan agent.
//
// A selector is a dotted hierarchical key such as "v3.asset.ip.v4". It
// serves two purposes at once: it is the routing key a message is
// published under on the bus, and it names the protobuf schema that
// describes the message payload. The [Registry] maps selectors to
// schemas. It is built once at startup from compiled descriptors
// (built-in schemas via [Builtin], agent-shipped schemas via
// [Registry.LoadDescriptorSet]) and never consults the filesystem
// afterward.
//
// Each schema file contributes the top-level message named "Message"
// under the selector formed from the file's directory: the file
// "v3/asset/ip/v4/v4.proto" registers selector "v3.asset.ip.v4".
// [Registry.Resolve] requires exactly one candidate per selector; zero
// candidates is a [NoMatchingSchemaError] and more than one is an
// [AmbiguousSchemaError].
//
// Payloads cross the package boundary as generic maps:
//
//	raw, err := registry.Serialize("v3.asset.ip.v4", map[string]any{
//	    "host":    "8.8.8.8",
//	    "version": uint32(4),
//	})
//	data, err := registry.Deserialize("v3.asset.ip.v4", raw)
//
// Selectors form a compatibility hierarchy: a payload built for
// "a.b.c" must parse against the schema for "a.b" and "a". Schema
// authors keep child schemas strict supersets of their ancestors. The
// registry does not enforce this; [Registry.CheckAncestors] reports
// violations for tooling and tests.
package selector
