// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. The health gate, reconnect
// backoff and silence watchdog tests drive it with Advance instead of
// sleeping.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a Clock whose time moves only on Advance. It is safe
// for concurrent use. AfterFunc callbacks run on the goroutine calling
// Advance, so a callback must not call Advance itself.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	alarms  []*alarm
	changed *sync.Cond
}

// alarm is one armed After channel or AfterFunc callback.
type alarm struct {
	deadline time.Time
	fire     func(now time.Time)
	armed    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a buffered channel that receives the clock's time once
// Advance reaches now+d. A non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.armLocked(&alarm{deadline: c.now.Add(d), fire: func(now time.Time) {
		select {
		case ch <- now:
		default:
		}
	}})
	return ch
}

// AfterFunc calls f from Advance once the clock reaches now+d. A
// non-positive d calls f before AfterFunc returns, and the returned
// Timer is already spent.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	a := &alarm{deadline: c.now.Add(d), fire: func(time.Time) { f() }}
	c.armLocked(a)
	c.mu.Unlock()

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.disarmLocked(a)
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasArmed := c.disarmLocked(a)
			a.deadline = c.now.Add(d)
			c.armLocked(a)
			return wasArmed
		},
	}
}

// Advance moves the clock forward by d, then fires every alarm due at
// or before the new time in deadline order. Alarms armed by a callback
// that are already due fire in the same call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(now)
		if len(due) == 0 {
			return
		}
		for _, a := range due {
			a.fire(now)
		}
	}
}

func (c *FakeClock) takeDue(now time.Time) []*alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []*alarm
	kept := c.alarms[:0]
	for _, a := range c.alarms {
		if a.deadline.After(now) {
			kept = append(kept, a)
			continue
		}
		a.armed = false
		due = append(due, a)
	}
	clear(c.alarms[len(kept):])
	c.alarms = kept
	slices.SortStableFunc(due, func(x, y *alarm) int { return x.deadline.Compare(y.deadline) })
	return due
}

// WaitForTimers blocks until at least n alarms are armed. Tests call it
// before Advance so the code under test has registered its wait:
//
//	go orchestrator.Scan(ctx, ...)
//	fake.WaitForTimers(2)      // backoff sleep and gate deadline
//	fake.Advance(time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.alarms) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed alarms.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alarms)
}

func (c *FakeClock) armLocked(a *alarm) {
	a.armed = true
	c.alarms = append(c.alarms, a)
	c.changed.Broadcast()
}

// disarmLocked removes a from the armed set, reporting whether it was
// armed.
func (c *FakeClock) disarmLocked(a *alarm) bool {
	if !a.armed {
		return false
	}
	a.armed = false
	c.alarms = slices.DeleteFunc(c.alarms, func(other *alarm) bool { return other == a })
	return true
}
