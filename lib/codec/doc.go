// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding shared by the scan runtime.
//
// Two artifacts cross the orchestrator/agent boundary in binary form:
// the per-instance settings blob mounted into every agent container,
// and the target bundle handed to the injector. Both are CBOR, encoded
// with Core Deterministic Encoding (RFC 8949 §4.2) so the same logical
// settings always produce the same bytes. Deterministic bytes matter
// here: configuration artifacts are content-compared when a scan is
// redeployed.
//
//	data, err := codec.Marshal(settings)
//	err = codec.Unmarshal(data, &settings)
//
// Payloads that must fit engine size limits (configuration artifacts
// are capped at 500 KiB) use the zstd-framed variants:
//
//	data, err := codec.MarshalCompressed(bundle)
//	err = codec.UnmarshalCompressed(data, &bundle)
//
// Struct tags follow one rule: `cbor` tags for types that only ever
// travel as CBOR, `json` tags for types that are also printed as JSON
// (fxamacker/cbor reads `json` tags when `cbor` tags are absent).
// Never put both on one field.
package codec
