// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/scanfleet/lib/clock"
)

// SilenceError reports that no activity was recorded for a full
// window.
type SilenceError struct {
	Window   time.Duration
	LastSeen time.Time
}

func (e *SilenceError) Error() string {
	return fmt.Sprintf("no activity for %v (last seen %s)", e.Window, e.LastSeen.Format(time.RFC3339))
}

// Kind returns "silence".
func (e *SilenceError) Kind() string { return "silence" }

// Watchdog tracks the time of the most recent activity. The zero value
// is not usable; construct with [New].
type Watchdog struct {
	clock  clock.Clock
	window time.Duration

	mu       sync.Mutex
	lastSeen time.Time
}

// New returns a watchdog whose silence window starts now. A window of
// zero or less disables it: Run then waits only for cancellation.
func New(c clock.Clock, window time.Duration) *Watchdog {
	return &Watchdog{
		clock:    c,
		window:   window,
		lastSeen: c.Now(),
	}
}

// Touch records activity at the current time. Safe for concurrent use.
func (w *Watchdog) Touch() {
	now := w.clock.Now()
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

// LastSeen returns the time of the most recent Touch, or the
// construction time if there was none.
func (w *Watchdog) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Window returns the configured silence window.
func (w *Watchdog) Window() time.Duration { return w.window }

// Run blocks until the silence window elapses without a Touch, and
// then returns a [*SilenceError]. It returns ctx.Err() when the context
// is cancelled first.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.window <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		lastSeen := w.LastSeen()
		remaining := lastSeen.Add(w.window).Sub(w.clock.Now())
		if remaining <= 0 {
			return &SilenceError{Window: w.window, LastSeen: lastSeen}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(remaining):
			// Re-check: a Touch during the wait pushes the deadline out.
		}
	}
}
