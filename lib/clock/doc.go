// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Code that waits accepts a [Clock] instead of calling time.Now,
// time.After, or time.AfterFunc directly. In production, [Real]
// provides the standard library behavior. In tests, [Fake] provides a
// deterministic clock that advances only when Advance is called.
//
// The orchestrator's health poller is the typical consumer:
//
//	poller := &healthPoller{clock: clock.Real()}
//
// and in tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	poller := &healthPoller{clock: c}
//	// ... start the poll loop in a goroutine ...
//	c.WaitForTimers(1)         // wait for the backoff timer to register
//	c.Advance(2 * time.Second) // fire it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls After or AfterFunc on a [FakeClock], it
// registers a pending waiter. [FakeClock.WaitForTimers] blocks until a
// given number of waiters are registered, which removes the race
// between registration and Advance that tests built on time.Sleep
// suffer from.
package clock
