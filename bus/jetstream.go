// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Compile-time interface checks.
var (
	_ Broker     = (*JetStreamBroker)(nil)
	_ Connection = (*jetStreamConnection)(nil)
	_ Channel    = (*jetStreamChannel)(nil)
	_ Delivery   = jetStreamDelivery{}
)

// JetStreamBroker maps the topic-exchange model onto NATS JetStream.
// The exchange becomes a stream capturing "<exchange>.>" with a
// message cap and the DiscardNew policy, which rejects publishes when
// full. Each agent queue becomes a durable pull consumer filtered on
// its bindings, with MaxDeliver 2 so the server enforces the same
// retry-once bound as the consumer. JetStream has no per-message
// priority; publish priorities are ignored.
type JetStreamBroker struct {
	URL string
	// Name is reported to the server for diagnostics.
	Name    string
	Options []nats.Option
}

func (b *JetStreamBroker) Dial(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := append([]nats.Option{nats.Name(b.Name)}, b.Options...)
	conn, err := nats.Connect(b.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("dialing nats: %w", err)
	}
	return &jetStreamConnection{conn: conn}, nil
}

type jetStreamConnection struct {
	conn *nats.Conn
}

func (c *jetStreamConnection) Channel() (Channel, error) {
	if c.conn.IsClosed() {
		return nil, ErrClosed
	}
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, err
	}
	return &jetStreamChannel{
		conn:      c.conn,
		js:        js,
		done:      make(chan struct{}),
		consumers: make(map[string]declaredConsumer),
	}, nil
}

func (c *jetStreamConnection) IsClosed() bool { return c.conn.IsClosed() }

func (c *jetStreamConnection) Close() error {
	c.conn.Close()
	return nil
}

type jetStreamChannel struct {
	conn *nats.Conn
	js   jetstream.JetStream
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	consumers map[string]declaredConsumer
	iterators []jetstream.MessagesContext
}

type declaredConsumer struct {
	consumer jetstream.Consumer
	// prefix is stripped from subjects to recover routing keys.
	prefix string
}

// streamName derives a stream name from an exchange name; stream names
// may not contain dots.
func streamName(exchange string) string {
	return strings.ReplaceAll(exchange, ".", "_")
}

func (c *jetStreamChannel) DeclareExchange(ctx context.Context, spec ExchangeSpec) error {
	maxMessages := spec.MaxMessages
	if maxMessages <= 0 {
		maxMessages = -1
	}
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(spec.Name),
		Subjects: []string{spec.Name + ".>"},
		MaxMsgs:  maxMessages,
		Discard:  jetstream.DiscardNew,
		Storage:  jetstream.FileStorage,
	})
	return err
}

func (c *jetStreamChannel) DeclareQueue(ctx context.Context, spec QueueSpec) error {
	stream, err := c.js.Stream(ctx, streamName(spec.Exchange))
	if err != nil {
		return fmt.Errorf("looking up stream for %s: %w", spec.Exchange, err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        streamName(spec.Name),
		FilterSubjects: filterSubjects(spec.Exchange, spec.Bindings),
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     2,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.consumers[spec.Name] = declaredConsumer{consumer: consumer, prefix: spec.Exchange + "."}
	c.mu.Unlock()
	return nil
}

func (c *jetStreamChannel) Publish(ctx context.Context, exchange, routingKey string, body []byte, _ uint8) error {
	_, err := c.js.Publish(ctx, exchange+"."+routingKey, body)
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), "maximum messages") {
		return ErrPublishRejected
	}
	return err
}

func (c *jetStreamChannel) Consume(_ context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	declared, ok := c.consumers[queue]
	if !ok {
		return nil, fmt.Errorf("consuming %q: queue not declared on this channel", queue)
	}
	iterator, err := declared.consumer.Messages(jetstream.PullMaxMessages(prefetch))
	if err != nil {
		return nil, err
	}
	c.iterators = append(c.iterators, iterator)
	prefix := declared.prefix

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			message, err := iterator.Next()
			if err != nil {
				return
			}
			select {
			case out <- jetStreamDelivery{message: message, prefix: prefix}:
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

func (c *jetStreamChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

func (c *jetStreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	for _, iterator := range c.iterators {
		iterator.Stop()
	}
	c.iterators = nil
	return nil
}

type jetStreamDelivery struct {
	message jetstream.Msg
	prefix  string
}

func (d jetStreamDelivery) RoutingKey() string {
	return strings.TrimPrefix(d.message.Subject(), d.prefix)
}

func (d jetStreamDelivery) Body() []byte { return d.message.Data() }

func (d jetStreamDelivery) Redelivered() bool {
	metadata, err := d.message.Metadata()
	return err == nil && metadata.NumDelivered > 1
}

func (d jetStreamDelivery) Ack() error     { return d.message.Ack() }
func (d jetStreamDelivery) Requeue() error { return d.message.Nak() }
func (d jetStreamDelivery) Drop() error    { return d.message.Term() }

// filterSubjects translates topic bindings into stream filter subjects.
// A trailing "#" matches zero or more words, so "a.#" needs both "a"
// and "a.>". Filters covered by a broader one are removed, since
// JetStream rejects overlapping filters.
func filterSubjects(exchange string, bindings []string) []string {
	var subjects []string
	for _, binding := range bindings {
		switch {
		case binding == "#":
			subjects = append(subjects, exchange+".>")
		case strings.HasSuffix(binding, ".#"):
			base := exchange + "." + strings.TrimSuffix(binding, ".#")
			subjects = append(subjects, base, base+".>")
		default:
			subjects = append(subjects, exchange+"."+binding)
		}
	}
	slices.Sort(subjects)
	subjects = slices.Compact(subjects)

	var result []string
	for _, subject := range subjects {
		covered := false
		for _, other := range subjects {
			if other != subject && subjectCovers(strings.Split(other, "."), strings.Split(subject, ".")) {
				covered = true
				break
			}
		}
		if !covered {
			result = append(result, subject)
		}
	}
	return result
}

// subjectCovers reports whether every subject matched by specific is
// also matched by general.
func subjectCovers(general, specific []string) bool {
	for i, token := range general {
		if token == ">" {
			return len(specific) > i
		}
		if i >= len(specific) {
			return false
		}
		switch {
		case specific[i] == ">":
			return false
		case token == "*":
			continue
		case token != specific[i]:
			return false
		}
	}
	return len(general) == len(specific)
}
