// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the CLI and
// agent binaries. These functions centralize the raw I/O that happens
// before the structured logger exists or after the process has
// decided to exit:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//   - Self-termination of a supervised agent ([Terminate]).
package process
