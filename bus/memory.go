// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Compile-time interface checks.
var (
	_ Broker     = (*MemoryBroker)(nil)
	_ Connection = (*memoryConnection)(nil)
	_ Channel    = (*memoryChannel)(nil)
	_ Delivery   = (*memoryDelivery)(nil)
)

// MemoryBroker is an in-process broker with topic routing, per-message
// priority, a reject-publish overflow policy, and AMQP redelivery
// semantics: unacknowledged messages on a closed channel return to
// their queue flagged as redelivered. Queues and exchanges outlive the
// connections that declared them, as durable ones do on a real broker.
type MemoryBroker struct {
	mu        sync.Mutex
	exchanges map[string]*memoryExchange
	queues    map[string]*memoryQueue
	conns     map[*memoryConnection]struct{}
	sequence  uint64

	dials     int
	failDials int
	dialErr   error
}

type memoryExchange struct {
	spec   ExchangeSpec
	queues []*memoryQueue
}

type memoryQueue struct {
	spec      QueueSpec
	ready     []*memoryMessage
	unacked   int
	consumers []*memoryConsumer
}

type memoryMessage struct {
	routingKey  string
	body        []byte
	priority    uint8
	redelivered bool
	sequence    uint64
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		exchanges: make(map[string]*memoryExchange),
		queues:    make(map[string]*memoryQueue),
		conns:     make(map[*memoryConnection]struct{}),
	}
}

// Dial returns a new connection, or err while FailDials is in effect.
func (b *MemoryBroker) Dial(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failDials != 0 {
		if b.failDials > 0 {
			b.failDials--
		}
		return nil, b.dialErr
	}
	conn := &memoryConnection{broker: b, channels: make(map[*memoryChannel]struct{})}
	b.conns[conn] = struct{}{}
	return conn, nil
}

// FailDials makes the next n dials fail with err. A negative n fails
// every dial until FailDials(0, nil).
func (b *MemoryBroker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
	b.dialErr = err
}

// Dials returns the number of Dial calls so far.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Sever closes every open connection as if the broker dropped them.
func (b *MemoryBroker) Sever() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.closeLocked()
	}
}

// QueueDepth returns the ready and unacknowledged message counts of
// queue.
func (b *MemoryBroker) QueueDepth(queue string) (ready, unacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, 0
	}
	return len(q.ready), q.unacked
}

// Bindings returns the sorted binding patterns of queue.
func (b *MemoryBroker) Bindings(queue string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	result := append([]string(nil), q.spec.Bindings...)
	sort.Strings(result)
	return result
}

func (b *MemoryBroker) held(exchange *memoryExchange) int64 {
	var total int64
	for _, q := range exchange.queues {
		total += int64(len(q.ready) + q.unacked)
	}
	return total
}

func (q *memoryQueue) push(m *memoryMessage) {
	q.ready = append(q.ready, m)
	sort.SliceStable(q.ready, func(i, j int) bool {
		if q.ready[i].priority != q.ready[j].priority {
			return q.ready[i].priority > q.ready[j].priority
		}
		return q.ready[i].sequence < q.ready[j].sequence
	})
	q.wake()
}

func (q *memoryQueue) wake() {
	for _, c := range q.consumers {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

type memoryConnection struct {
	broker   *MemoryBroker
	closed   bool
	channels map[*memoryChannel]struct{}
}

func (c *memoryConnection) Channel() (Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := &memoryChannel{conn: c}
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *memoryConnection) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *memoryConnection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *memoryConnection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.channels {
		ch.closeLocked()
	}
	delete(c.broker.conns, c)
}

type memoryChannel struct {
	conn      *memoryConnection
	closed    bool
	consumers []*memoryConsumer
}

func (ch *memoryChannel) broker() *MemoryBroker { return ch.conn.broker }

func (ch *memoryChannel) DeclareExchange(_ context.Context, spec ExchangeSpec) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	if _, ok := b.exchanges[spec.Name]; !ok {
		b.exchanges[spec.Name] = &memoryExchange{spec: spec}
	}
	return nil
}

func (ch *memoryChannel) DeclareQueue(_ context.Context, spec QueueSpec) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	exchange, ok := b.exchanges[spec.Exchange]
	if !ok {
		return fmt.Errorf("declaring queue %q: exchange %q not found", spec.Name, spec.Exchange)
	}
	q, ok := b.queues[spec.Name]
	if !ok {
		q = &memoryQueue{spec: spec}
		q.spec.Bindings = nil
		b.queues[spec.Name] = q
		exchange.queues = append(exchange.queues, q)
	}
	for _, binding := range spec.Bindings {
		if !slices.Contains(q.spec.Bindings, binding) {
			q.spec.Bindings = append(q.spec.Bindings, binding)
		}
	}
	return nil
}

func (ch *memoryChannel) Publish(_ context.Context, exchangeName, routingKey string, body []byte, priority uint8) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	exchange, ok := b.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("publishing to %q: exchange not found", exchangeName)
	}

	var targets []*memoryQueue
	for _, q := range exchange.queues {
		for _, pattern := range q.spec.Bindings {
			if topicMatch(pattern, routingKey) {
				targets = append(targets, q)
				break
			}
		}
	}
	if len(targets) == 0 {
		return nil
	}
	if exchange.spec.MaxMessages > 0 && b.held(exchange)+int64(len(targets)) > exchange.spec.MaxMessages {
		return ErrPublishRejected
	}
	for _, q := range targets {
		if q.spec.MaxMessages > 0 && int64(len(q.ready)+q.unacked) >= q.spec.MaxMessages {
			return ErrPublishRejected
		}
	}

	for _, q := range targets {
		b.sequence++
		q.push(&memoryMessage{
			routingKey: routingKey,
			body:       append([]byte(nil), body...),
			priority:   min(priority, q.spec.MaxPriority),
			sequence:   b.sequence,
		})
	}
	return nil
}

func (ch *memoryChannel) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("consuming %q: queue not found", queue)
	}
	if prefetch < 1 {
		prefetch = 1
	}
	consumer := &memoryConsumer{
		broker:   b,
		queue:    q,
		prefetch: prefetch,
		inflight: make(map[*memoryDelivery]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan Delivery),
	}
	ch.consumers = append(ch.consumers, consumer)
	q.consumers = append(q.consumers, consumer)
	go consumer.run()
	return consumer.out, nil
}

func (ch *memoryChannel) IsClosed() bool {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	return ch.closed
}

func (ch *memoryChannel) Close() error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	ch.closeLocked()
	delete(ch.conn.channels, ch)
	return nil
}

func (ch *memoryChannel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, consumer := range ch.consumers {
		consumer.cancelLocked()
	}
	ch.consumers = nil
}

type memoryConsumer struct {
	broker   *MemoryBroker
	queue    *memoryQueue
	prefetch int
	inflight map[*memoryDelivery]struct{}
	wake     chan struct{}
	done     chan struct{}
	out      chan Delivery
}

func (c *memoryConsumer) run() {
	defer close(c.out)
	for {
		delivery, cancelled := c.next()
		if cancelled {
			return
		}
		if delivery == nil {
			select {
			case <-c.wake:
			case <-c.done:
			}
			continue
		}
		select {
		case c.out <- delivery:
		case <-c.done:
			// cancelLocked already returned the message to the queue.
		}
	}
}

func (c *memoryConsumer) next() (*memoryDelivery, bool) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	select {
	case <-c.done:
		return nil, true
	default:
	}
	if len(c.inflight) >= c.prefetch || len(c.queue.ready) == 0 {
		return nil, false
	}
	message := c.queue.ready[0]
	c.queue.ready = c.queue.ready[1:]
	c.queue.unacked++
	delivery := &memoryDelivery{consumer: c, message: message}
	c.inflight[delivery] = struct{}{}
	return delivery, false
}

// cancelLocked stops the consumer and requeues its unacknowledged
// messages as redelivered.
func (c *memoryConsumer) cancelLocked() {
	close(c.done)
	for delivery := range c.inflight {
		delivery.settled = true
		c.queue.unacked--
		delivery.message.redelivered = true
		c.queue.push(delivery.message)
	}
	c.inflight = nil
	for i, other := range c.queue.consumers {
		if other == c {
			c.queue.consumers = append(c.queue.consumers[:i], c.queue.consumers[i+1:]...)
			break
		}
	}
	c.queue.wake()
}

type memoryDelivery struct {
	consumer *memoryConsumer
	message  *memoryMessage
	settled  bool
}

func (d *memoryDelivery) RoutingKey() string { return d.message.routingKey }
func (d *memoryDelivery) Body() []byte       { return d.message.body }
func (d *memoryDelivery) Redelivered() bool  { return d.message.redelivered }

func (d *memoryDelivery) Ack() error     { return d.settle(false) }
func (d *memoryDelivery) Requeue() error { return d.settle(true) }
func (d *memoryDelivery) Drop() error    { return d.settle(false) }

func (d *memoryDelivery) settle(requeue bool) error {
	b := d.consumer.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.settled {
		return fmt.Errorf("settling delivery of %s: %w", d.message.routingKey, ErrClosed)
	}
	d.settled = true
	delete(d.consumer.inflight, d)
	q := d.consumer.queue
	q.unacked--
	if requeue {
		d.message.redelivered = true
		q.push(d.message)
		return nil
	}
	q.wake()
	return nil
}

// topicMatch reports whether routingKey matches an AMQP topic pattern:
// "*" matches exactly one word and "#" matches zero or more.
func topicMatch(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
