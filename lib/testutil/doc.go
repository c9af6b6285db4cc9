// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls.
// [WaitFor] polls a condition with the same kind of safety valve.
// These are the only places in the test suite where real wall-clock
// timeouts are used; everything else runs on a fake clock.
//
// [Logger] returns a structured logger that writes through t.Log, so
// output appears only for failing tests or with -v.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no scanfleet-internal dependencies.
package testutil
