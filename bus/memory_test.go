// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/scanfleet/lib/testutil"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"v3.asset.ip", "v3.asset.ip", true},
		{"v3.asset.ip", "v3.asset.ip.v4", false},
		{"v3.asset.*", "v3.asset.ip", true},
		{"v3.asset.*", "v3.asset.ip.v4", false},
		{"v3.*.ip", "v3.asset.ip", true},
		{"v3.asset.#", "v3.asset", true},
		{"v3.asset.#", "v3.asset.ip.v4", true},
		{"v3.asset.#", "v3.report.vulnerability", false},
		{"#", "v3.healthcheck.ping", true},
		{"v3.#.v4", "v3.asset.ip.v4", true},
		{"v3.#.v4", "v3.v4", true},
		{"v3.#.v4", "v3.asset.ip.v6", false},
	}
	for _, test := range tests {
		t.Run(test.pattern+"/"+test.key, func(t *testing.T) {
			if got := topicMatch(test.pattern, test.key); got != test.want {
				t.Errorf("topicMatch(%q, %q) = %v, want %v", test.pattern, test.key, got, test.want)
			}
		})
	}
}

// openMemoryChannel opens a channel and declares exchange and, when
// named, queue on it.
func openMemoryChannel(t *testing.T, broker *MemoryBroker, exchange ExchangeSpec, queue QueueSpec) Channel {
	t.Helper()
	ctx := context.Background()
	conn, err := broker.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := ch.DeclareExchange(ctx, exchange); err != nil {
		t.Fatalf("DeclareExchange: %v", err)
	}
	if queue.Name != "" {
		if err := ch.DeclareQueue(ctx, queue); err != nil {
			t.Fatalf("DeclareQueue: %v", err)
		}
	}
	t.Cleanup(func() { conn.Close() })
	return ch
}

func TestMemoryBrokerPriorityOrder(t *testing.T) {
	broker := NewMemoryBroker()
	ch := openMemoryChannel(t, broker,
		ExchangeSpec{Name: "x"},
		QueueSpec{Name: "q", Exchange: "x", Bindings: []string{"#"}, MaxPriority: 5},
	)
	ctx := context.Background()

	publishes := []struct {
		body     string
		priority uint8
	}{
		{"low", 1},
		{"high-a", 5},
		{"capped", 9},
		{"high-b", 5},
		{"none", 0},
	}
	for _, p := range publishes {
		if err := ch.Publish(ctx, "x", "a.b", []byte(p.body), p.priority); err != nil {
			t.Fatalf("Publish(%s): %v", p.body, err)
		}
	}

	deliveries, err := ch.Consume(ctx, "q", len(publishes))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	want := []string{"high-a", "capped", "high-b", "low", "none"}
	for _, body := range want {
		delivery := testutil.RequireReceive(t, deliveries, 5*time.Second, "waiting for %s", body)
		if got := string(delivery.Body()); got != body {
			t.Fatalf("delivered %q, want %q", got, body)
		}
		delivery.Ack()
	}
}

func TestMemoryBrokerRejectsWhenFull(t *testing.T) {
	broker := NewMemoryBroker()
	ch := openMemoryChannel(t, broker,
		ExchangeSpec{Name: "x", MaxMessages: 2},
		QueueSpec{Name: "q", Exchange: "x", Bindings: []string{"a.*"}},
	)
	ctx := context.Background()

	for i := range 2 {
		if err := ch.Publish(ctx, "x", "a.b", []byte{byte(i)}, 0); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if err := ch.Publish(ctx, "x", "a.b", []byte("overflow"), 0); !errors.Is(err, ErrPublishRejected) {
		t.Fatalf("Publish over cap = %v, want ErrPublishRejected", err)
	}
	// Unroutable messages are not held and do not count.
	if err := ch.Publish(ctx, "x", "other", []byte("dropped"), 0); err != nil {
		t.Fatalf("unroutable Publish: %v", err)
	}
	if ready, _ := broker.QueueDepth("q"); ready != 2 {
		t.Errorf("ready = %d, want 2 (old messages kept)", ready)
	}
}

func TestMemoryBrokerRequeuesOnChannelClose(t *testing.T) {
	broker := NewMemoryBroker()
	exchange := ExchangeSpec{Name: "x"}
	queue := QueueSpec{Name: "q", Exchange: "x", Bindings: []string{"#"}}
	ctx := context.Background()

	first := openMemoryChannel(t, broker, exchange, queue)
	if err := first.Publish(ctx, "x", "a", []byte("payload"), 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	deliveries, err := first.Consume(ctx, "q", 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	delivery := testutil.RequireReceive(t, deliveries, 5*time.Second, "first delivery")
	if delivery.Redelivered() {
		t.Fatal("first delivery flagged as redelivered")
	}

	broker.Sever()
	testutil.RequireClosed(t, deliveries, 5*time.Second, "deliveries not closed after sever")
	if err := delivery.Ack(); err == nil {
		t.Error("Ack on a severed channel succeeded")
	}
	if ready, unacked := broker.QueueDepth("q"); ready != 1 || unacked != 0 {
		t.Fatalf("QueueDepth = (%d, %d), want (1, 0)", ready, unacked)
	}

	second := openMemoryChannel(t, broker, exchange, queue)
	deliveries, err = second.Consume(ctx, "q", 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	redelivery := testutil.RequireReceive(t, deliveries, 5*time.Second, "redelivery")
	if !redelivery.Redelivered() {
		t.Error("redelivery not flagged")
	}
	if err := redelivery.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if ready, unacked := broker.QueueDepth("q"); ready != 0 || unacked != 0 {
		t.Fatalf("QueueDepth after Drop = (%d, %d), want (0, 0)", ready, unacked)
	}
}

func TestMemoryBrokerPrefetch(t *testing.T) {
	broker := NewMemoryBroker()
	ch := openMemoryChannel(t, broker,
		ExchangeSpec{Name: "x"},
		QueueSpec{Name: "q", Exchange: "x", Bindings: []string{"#"}},
	)
	ctx := context.Background()
	for range 3 {
		ch.Publish(ctx, "x", "a", []byte("m"), 0)
	}

	deliveries, err := ch.Consume(ctx, "q", 2)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	first := testutil.RequireReceive(t, deliveries, 5*time.Second, "first")
	testutil.RequireReceive(t, deliveries, 5*time.Second, "second")
	testutil.WaitFor(t, 5*time.Second, func() bool {
		ready, unacked := broker.QueueDepth("q")
		return ready == 1 && unacked == 2
	}, "two in flight, one ready")

	first.Ack()
	testutil.RequireReceive(t, deliveries, 5*time.Second, "third after ack")
}
