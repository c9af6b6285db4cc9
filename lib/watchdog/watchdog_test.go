// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/scanfleet/lib/clock"
	"github.com/bureau-foundation/scanfleet/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func runAsync(ctx context.Context, w *Watchdog) <-chan error {
	result := make(chan error, 1)
	go func() { result <- w.Run(ctx) }()
	return result
}

func TestRunFiresAfterSilence(t *testing.T) {
	fake := clock.Fake(epoch)
	w := New(fake, time.Hour)

	result := runAsync(context.Background(), w)
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)

	err := testutil.RequireReceive(t, result, 5*time.Second, "watchdog did not fire")
	var silence *SilenceError
	if !errors.As(err, &silence) {
		t.Fatalf("Run() = %v, want *SilenceError", err)
	}
	if silence.Window != time.Hour {
		t.Errorf("Window = %v, want 1h", silence.Window)
	}
	if !silence.LastSeen.Equal(epoch) {
		t.Errorf("LastSeen = %v, want %v", silence.LastSeen, epoch)
	}
	if silence.Kind() != "silence" {
		t.Errorf("Kind() = %q", silence.Kind())
	}
}

func TestTouchExtendsWindow(t *testing.T) {
	fake := clock.Fake(epoch)
	w := New(fake, time.Hour)

	result := runAsync(context.Background(), w)
	fake.WaitForTimers(1)

	fake.Advance(40 * time.Minute)
	w.Touch()
	fake.Advance(20 * time.Minute)

	// The first wait expired at 60m, but the touch at 40m moved the
	// deadline to 100m. Run re-arms for the remaining 40 minutes.
	fake.WaitForTimers(1)
	select {
	case err := <-result:
		t.Fatalf("Run() returned early: %v", err)
	default:
	}

	fake.Advance(40 * time.Minute)
	err := testutil.RequireReceive(t, result, 5*time.Second, "watchdog did not fire")
	var silence *SilenceError
	if !errors.As(err, &silence) {
		t.Fatalf("Run() = %v, want *SilenceError", err)
	}
	if want := epoch.Add(40 * time.Minute); !silence.LastSeen.Equal(want) {
		t.Errorf("LastSeen = %v, want %v", silence.LastSeen, want)
	}
}

func TestRunCancelled(t *testing.T) {
	fake := clock.Fake(epoch)
	w := New(fake, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	result := runAsync(ctx, w)
	fake.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, result, 5*time.Second, "Run did not return after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestDisabledWindow(t *testing.T) {
	fake := clock.Fake(epoch)
	w := New(fake, 0)

	ctx, cancel := context.WithCancel(context.Background())
	result := runAsync(ctx, w)
	fake.Advance(24 * time.Hour)

	select {
	case err := <-result:
		t.Fatalf("disabled watchdog returned: %v", err)
	default:
	}
	cancel()
	err := testutil.RequireReceive(t, result, 5*time.Second, "Run did not return after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}
