// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// consumeLoop runs the subscription until ctx is cancelled. When the
// broker invalidates the consumer channel, the declare/bind/consume
// sequence restarts on a fresh channel.
func (a *Agent) consumeLoop(ctx context.Context, handler Handler, bindings []string) error {
	for {
		err := a.consumeOnce(ctx, handler, bindings)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, errConsumerLost) {
			return err
		}
		a.logger.Warn("restarting subscription", "error", err)
	}
}

func (a *Agent) consumeOnce(ctx context.Context, handler Handler, bindings []string) error {
	ch, err := a.channels.Acquire(ctx)
	if err != nil {
		return err
	}
	// Consumer channels are never returned to the pool.
	defer a.channels.Discard(ch)

	if err := a.declare(ctx, ch, bindings); err != nil {
		return a.channelFailure(ch, "declare", err)
	}
	deliveries, err := ch.Consume(ctx, a.config.Name, a.config.Prefetch)
	if err != nil {
		return a.channelFailure(ch, "consume", err)
	}

	jobs := make(chan Delivery, a.config.Prefetch)
	var workers sync.WaitGroup
	for range a.config.Concurrency {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for delivery := range jobs {
				a.handle(ctx, handler, delivery)
			}
		}()
	}
	defer func() {
		close(jobs)
		workers.Wait()
	}()

	a.logger.Info("consuming", "queue", a.config.Name, "bindings", bindings,
		"concurrency", a.config.Concurrency, "prefetch", a.config.Prefetch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errConsumerLost
			}
			a.watchdog.Touch()
			select {
			case jobs <- delivery:
			case <-ctx.Done():
				a.settle(delivery, "requeue", delivery.Requeue)
				return ctx.Err()
			}
		}
	}
}

func (a *Agent) declare(ctx context.Context, ch Channel, bindings []string) error {
	if err := ch.DeclareExchange(ctx, a.exchangeSpec()); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", a.config.Exchange, err)
	}
	err := ch.DeclareQueue(ctx, QueueSpec{
		Name:        a.config.Name,
		Exchange:    a.config.Exchange,
		Bindings:    bindings,
		MaxPriority: a.config.MaxPriority,
		MaxMessages: a.config.MaxMessages,
	})
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", a.config.Name, err)
	}
	return nil
}

// channelFailure classifies a declare or consume error: on a channel
// the broker closed it is a lost consumer, otherwise a hard failure.
func (a *Agent) channelFailure(ch Channel, op string, err error) error {
	if ch.IsClosed() {
		return fmt.Errorf("%w during %s: %w", errConsumerLost, op, err)
	}
	return &TransportError{Op: op, Err: err}
}

// handle runs handler on one delivery and applies retry-once-then-drop:
// success acks, a first failure requeues, and a failure of a
// redelivered message drops it.
func (a *Agent) handle(ctx context.Context, handler Handler, delivery Delivery) {
	if ctx.Err() != nil {
		a.settle(delivery, "requeue", delivery.Requeue)
		return
	}
	err := a.dispatch(ctx, handler, delivery)
	switch {
	case err == nil:
		a.settle(delivery, "ack", delivery.Ack)
	case delivery.Redelivered():
		a.logger.Error("message failed after redelivery, dropping",
			"selector", delivery.RoutingKey(), "error", err)
		a.settle(delivery, "drop", delivery.Drop)
	default:
		a.logger.Warn("message failed, requeueing once",
			"selector", delivery.RoutingKey(), "error", err)
		a.settle(delivery, "requeue", delivery.Requeue)
	}
}

func (a *Agent) dispatch(ctx context.Context, handler Handler, delivery Delivery) (err error) {
	message, err := a.config.Registry.NewMessageFromRaw(delivery.RoutingKey(), delivery.Body())
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &HandlerPanicError{Selector: delivery.RoutingKey(), Value: recovered}
		}
	}()
	return handler.ProcessMessage(ctx, message)
}

func (a *Agent) settle(delivery Delivery, action string, fn func() error) {
	if err := fn(); err != nil {
		a.logger.Warn("settling delivery failed", "action", action,
			"selector", delivery.RoutingKey(), "error", err)
	}
}
