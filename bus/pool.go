// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded pool of reusable broker resources. At most size
// items are checked out at once; Acquire blocks until one is free.
// Idle items that have gone stale are destroyed instead of handed out.
type Pool[T any] struct {
	name    string
	slots   *semaphore.Weighted
	create  func(ctx context.Context) (T, error)
	healthy func(T) bool
	destroy func(T)

	mu     sync.Mutex
	idle   []T
	closed bool
}

// NewPool returns a pool of at most size items. create makes a new
// item, healthy reports whether an item may be reused, and destroy
// releases one.
func NewPool[T any](name string, size int, create func(ctx context.Context) (T, error), healthy func(T) bool, destroy func(T)) *Pool[T] {
	if size < 1 {
		size = 1
	}
	return &Pool[T]{
		name:    name,
		slots:   semaphore.NewWeighted(int64(size)),
		create:  create,
		healthy: healthy,
		destroy: destroy,
	}
}

// Acquire returns an idle healthy item or creates one. The caller must
// hand it back with Release or Discard. On error no slot is held.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("acquiring %s: %w", p.name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return zero, fmt.Errorf("acquiring %s: %w", p.name, ErrClosed)
	}
	for len(p.idle) > 0 {
		item := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.healthy(item) {
			p.mu.Unlock()
			return item, nil
		}
		p.destroy(item)
	}
	p.mu.Unlock()

	item, err := p.create(ctx)
	if err != nil {
		p.slots.Release(1)
		return zero, err
	}
	return item, nil
}

// Release returns item to the pool. Unhealthy items, and items
// released after Close, are destroyed.
func (p *Pool[T]) Release(item T) {
	defer p.slots.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.healthy(item) {
		p.destroy(item)
		return
	}
	p.idle = append(p.idle, item)
}

// Discard destroys item and frees its slot.
func (p *Pool[T]) Discard(item T) {
	p.destroy(item)
	p.slots.Release(1)
}

// With acquires an item, runs fn, and releases the item. fn's error is
// returned unchanged.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	item, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(item)
	return fn(item)
}

// Idle returns the number of pooled items not checked out.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close destroys idle items. Items checked out at the time are
// destroyed when released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, item := range p.idle {
		p.destroy(item)
	}
	p.idle = nil
}
