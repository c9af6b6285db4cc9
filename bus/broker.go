// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "context"

// Broker dials connections to a message broker.
type Broker interface {
	Dial(ctx context.Context) (Connection, error)
}

// Connection is one broker connection. Channels are multiplexed over
// it.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// ExchangeSpec describes the runtime's topic exchange.
type ExchangeSpec struct {
	Name string
	// MaxMessages caps the messages the exchange holds; publishes
	// beyond it fail with [ErrPublishRejected]. Zero means unbounded.
	// Backends without an exchange-level limit enforce it per queue
	// through [QueueSpec.MaxMessages].
	MaxMessages int64
}

// QueueSpec describes one agent's durable queue.
type QueueSpec struct {
	Name     string
	Exchange string
	// Bindings are topic patterns ("*" one word, "#" zero or more).
	Bindings []string
	// MaxPriority enables per-message priority up to this value.
	// Zero disables priorities.
	MaxPriority uint8
	MaxMessages int64
}

// Channel is a lightweight session on a connection. A channel the
// broker closes stays closed; callers discard it and open another.
type Channel interface {
	DeclareExchange(ctx context.Context, spec ExchangeSpec) error
	DeclareQueue(ctx context.Context, spec QueueSpec) error
	// Publish sends body to exchange under routingKey. It returns once
	// the broker has accepted the message.
	Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error
	// Consume starts manual-ack delivery from queue with at most
	// prefetch unacknowledged messages in flight. The returned channel
	// closes when the channel or its connection closes.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	IsClosed() bool
	Close() error
}

// Delivery is one consumed message. Exactly one of Ack, Requeue, or
// Drop must be called.
type Delivery interface {
	RoutingKey() string
	Body() []byte
	// Redelivered reports whether the broker delivered this message
	// before.
	Redelivered() bool
	Ack() error
	// Requeue returns the message to the queue for redelivery.
	Requeue() error
	// Drop rejects the message without redelivery.
	Drop() error
}
