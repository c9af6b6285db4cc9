// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog detects a process that has gone quiet.
//
// A long-running agent is expected to receive bus traffic while its
// scan is alive. When nothing arrives for an extended silence window,
// the agent is most likely attached to a dead queue, a stale
// connection, or a scan that was torn down underneath it. Rather than
// limping along, it should exit and let its supervisor restart it.
//
// The consumer calls [Watchdog.Touch] for every message. [Watchdog.Run]
// blocks until the window elapses without a touch and then returns a
// [*SilenceError]; the caller decides how to terminate (the bus agent
// calls its exit function with a non-zero code).
//
// All timing goes through [clock.Clock], so tests drive the window
// with a fake clock.
package watchdog
