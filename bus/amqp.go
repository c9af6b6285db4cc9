// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Compile-time interface checks.
var (
	_ Broker     = (*AMQPBroker)(nil)
	_ Connection = (*amqpConnection)(nil)
	_ Channel    = (*amqpChannel)(nil)
	_ Delivery   = amqpDelivery{}
)

// AMQPBroker dials RabbitMQ. The exchange is a durable topic exchange;
// queues are durable, never auto-deleted, and capped with a
// reject-publish overflow policy so a full queue refuses new messages
// instead of dropping old ones. RabbitMQ does not cap exchanges, so
// [ExchangeSpec.MaxMessages] is not sent; the cap in force is each
// queue's [QueueSpec.MaxMessages]. Publishes wait for the broker's
// confirm, so a publish refused by any bound queue surfaces as
// [ErrPublishRejected].
type AMQPBroker struct {
	URL         string
	VirtualHost string
	// ConnectionName is reported to the broker for diagnostics.
	ConnectionName string
}

func (b *AMQPBroker) Dial(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	config := amqp.Config{
		Vhost:      b.VirtualHost,
		Properties: amqp.NewConnectionProperties(),
	}
	if b.ConnectionName != "" {
		config.Properties.SetClientConnectionName(b.ConnectionName)
	}
	conn, err := amqp.DialConfig(b.URL, config)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp broker: %w", err)
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}
	return &amqpChannel{channel: ch, done: make(chan struct{})}, nil
}

func (c *amqpConnection) IsClosed() bool { return c.conn.IsClosed() }

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type amqpChannel struct {
	channel   *amqp.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func overflowArgs(maxMessages int64) amqp.Table {
	if maxMessages <= 0 {
		return nil
	}
	return amqp.Table{
		"x-max-length": maxMessages,
		"x-overflow":   "reject-publish",
	}
}

func (c *amqpChannel) DeclareExchange(_ context.Context, spec ExchangeSpec) error {
	return c.channel.ExchangeDeclare(spec.Name, amqp.ExchangeTopic, true, false, false, false, nil)
}

func (c *amqpChannel) DeclareQueue(_ context.Context, spec QueueSpec) error {
	args := overflowArgs(spec.MaxMessages)
	if spec.MaxPriority > 0 {
		if args == nil {
			args = amqp.Table{}
		}
		args["x-max-priority"] = int64(spec.MaxPriority)
	}
	if _, err := c.channel.QueueDeclare(spec.Name, true, false, false, false, args); err != nil {
		return err
	}
	for _, binding := range spec.Bindings {
		if err := c.channel.QueueBind(spec.Name, binding, spec.Exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s: %w", binding, err)
		}
	}
	return nil
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	confirmation, err := c.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/x-protobuf",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		Body:         body,
	})
	if err != nil {
		return err
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrPublishRejected
	}
	return nil
}

func (c *amqpChannel) Consume(_ context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}
	source, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for delivery := range source {
			select {
			case out <- amqpDelivery{delivery: delivery}:
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

func (c *amqpChannel) IsClosed() bool { return c.channel.IsClosed() }

func (c *amqpChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	err := c.channel.Close()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

type amqpDelivery struct {
	delivery amqp.Delivery
}

func (d amqpDelivery) RoutingKey() string { return d.delivery.RoutingKey }
func (d amqpDelivery) Body() []byte       { return d.delivery.Body }
func (d amqpDelivery) Redelivered() bool  { return d.delivery.Redelivered }
func (d amqpDelivery) Ack() error         { return d.delivery.Ack(false) }
func (d amqpDelivery) Requeue() error     { return d.delivery.Nack(false, true) }
func (d amqpDelivery) Drop() error        { return d.delivery.Reject(false) }
