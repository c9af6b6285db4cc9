// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/scanfleet/lib/clock"
	"github.com/bureau-foundation/scanfleet/lib/selector"
	"github.com/bureau-foundation/scanfleet/lib/testutil"
	"github.com/bureau-foundation/scanfleet/lib/watchdog"
)

const testExchange = "scanfleet.test"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAgent(t *testing.T, broker Broker, name string, modify func(*AgentConfig)) *Agent {
	t.Helper()
	config := AgentConfig{
		Name:     name,
		Broker:   broker,
		Registry: selector.MustBuiltin(),
		Exchange: testExchange,
		Logger:   testutil.Logger(t),
		Exit: func(code int, reason string) {
			t.Errorf("unexpected exit(%d): %s", code, reason)
		},
	}
	if modify != nil {
		modify(&config)
	}
	agent, err := NewAgent(config)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { agent.Close() })
	return agent
}

func initAgent(t *testing.T, agent *Agent) {
	t.Helper()
	if err := agent.Init(context.Background()); err != nil {
		t.Fatalf("Init(%s): %v", agent.Name(), err)
	}
}

// runAgent runs agent until the test ends and returns Run's result
// channel.
func runAgent(t *testing.T, agent *Agent) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result <- agent.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
			t.Errorf("agent %s did not stop", agent.Name())
		}
	})
	return result
}

// startConsumer initializes, subscribes, and runs a consumer agent, and
// waits until its queue is bound.
func startConsumer(t *testing.T, broker *MemoryBroker, name string, patterns []string, handler Handler) *Agent {
	t.Helper()
	agent := newTestAgent(t, broker, name, nil)
	initAgent(t, agent)
	if err := agent.Subscribe(patterns, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	runAgent(t, agent)
	testutil.WaitFor(t, 5*time.Second, func() bool {
		return len(broker.Bindings(name)) == len(patterns)
	}, "queue %s bound", name)
	return agent
}

func ipv4(host string) map[string]any {
	return map[string]any{"host": host, "version": uint32(4)}
}

func TestAgentDeliversToHandler(t *testing.T) {
	broker := NewMemoryBroker()
	received := make(chan selector.Message, 4)
	startConsumer(t, broker, "portscan", []string{"v3.asset.ip.#"},
		HandlerFunc(func(_ context.Context, message selector.Message) error {
			received <- message
			return nil
		}))

	publisher := newTestAgent(t, broker, "inject", nil)
	initAgent(t, publisher)
	ctx := context.Background()
	if err := publisher.Publish(ctx, "v3.asset.ip.v4", ipv4("10.0.0.1"), 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := publisher.Publish(ctx, "v3.asset.domain_name", map[string]any{"name": "example.com"}, 0); err != nil {
		t.Fatalf("Publish unrelated: %v", err)
	}

	message := testutil.RequireReceive(t, received, 5*time.Second, "handler not invoked")
	if message.Selector() != "v3.asset.ip.v4" {
		t.Errorf("Selector() = %q", message.Selector())
	}
	if host := message.Data()["host"]; host != "10.0.0.1" {
		t.Errorf("host = %v, want 10.0.0.1", host)
	}
	testutil.WaitFor(t, 5*time.Second, func() bool {
		ready, unacked := broker.QueueDepth("portscan")
		return ready == 0 && unacked == 0
	}, "message acked")
	select {
	case extra := <-received:
		t.Errorf("unbound selector %s was delivered", extra.Selector())
	default:
	}
}

func TestRetryOnceThenDrop(t *testing.T) {
	tests := []struct {
		name    string
		handler func(call int32) error
		calls   int32
	}{
		{
			name:    "always failing is dropped after redelivery",
			handler: func(int32) error { return errors.New("scanner crashed") },
			calls:   2,
		},
		{
			name:    "panic is treated as failure",
			handler: func(int32) error { panic("nil target") },
			calls:   2,
		},
		{
			name: "second attempt succeeds",
			handler: func(call int32) error {
				if call == 1 {
					return errors.New("transient")
				}
				return nil
			},
			calls: 2,
		},
		{
			name:    "success is acked first time",
			handler: func(int32) error { return nil },
			calls:   1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			broker := NewMemoryBroker()
			var calls atomic.Int32
			startConsumer(t, broker, "worker", []string{"v3.asset.ip.v4"},
				HandlerFunc(func(context.Context, selector.Message) error {
					return test.handler(calls.Add(1))
				}))

			publisher := newTestAgent(t, broker, "publisher", nil)
			initAgent(t, publisher)
			if err := publisher.Publish(context.Background(), "v3.asset.ip.v4", ipv4("10.0.0.2"), 0); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			testutil.WaitFor(t, 5*time.Second, func() bool {
				ready, unacked := broker.QueueDepth("worker")
				return calls.Load() == test.calls && ready == 0 && unacked == 0
			}, "message settled after %d calls (got %d)", test.calls, calls.Load())
			if got := calls.Load(); got != test.calls {
				t.Fatalf("handler called %d times, want %d", got, test.calls)
			}
		})
	}
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	broker := NewMemoryBroker()
	var calls atomic.Int32
	startConsumer(t, broker, "worker", []string{"v9.#"},
		HandlerFunc(func(context.Context, selector.Message) error {
			calls.Add(1)
			return nil
		}))

	ch := openMemoryChannel(t, broker, ExchangeSpec{Name: testExchange}, QueueSpec{})
	if err := ch.Publish(context.Background(), testExchange, "v9.unknown", []byte{0xff, 0x01}, 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.WaitFor(t, 5*time.Second, func() bool {
		ready, unacked := broker.QueueDepth("worker")
		return ready == 0 && unacked == 0
	}, "undecodable message dropped")
	if calls.Load() != 0 {
		t.Errorf("handler called %d times for an undecodable message", calls.Load())
	}
}

func TestPublishRejectedWhenExchangeFull(t *testing.T) {
	broker := NewMemoryBroker()
	publisher := newTestAgent(t, broker, "publisher", func(c *AgentConfig) { c.MaxMessages = 1 })
	initAgent(t, publisher)
	openMemoryChannel(t, broker, ExchangeSpec{Name: testExchange},
		QueueSpec{Name: "idle", Exchange: testExchange, Bindings: []string{"#"}})

	ctx := context.Background()
	if err := publisher.Publish(ctx, "v3.asset.ip.v4", ipv4("10.0.0.3"), 0); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	err := publisher.Publish(ctx, "v3.asset.ip.v4", ipv4("10.0.0.4"), 0)
	if !errors.Is(err, ErrPublishRejected) {
		t.Fatalf("Publish over cap = %v, want ErrPublishRejected", err)
	}
}

func TestPublishSerializationError(t *testing.T) {
	broker := NewMemoryBroker()
	publisher := newTestAgent(t, broker, "publisher", nil)
	initAgent(t, publisher)

	err := publisher.Publish(context.Background(), "v3.asset.ip.v4", map[string]any{"port": 80}, 0)
	var serialization *selector.SerializationError
	if !errors.As(err, &serialization) {
		t.Fatalf("Publish = %v, want *selector.SerializationError", err)
	}
}

func TestPublishAsyncDrainedByRun(t *testing.T) {
	broker := NewMemoryBroker()
	received := make(chan selector.Message, 1)
	startConsumer(t, broker, "report", []string{"v3.report.#"},
		HandlerFunc(func(_ context.Context, message selector.Message) error {
			received <- message
			return nil
		}))

	publisher := newTestAgent(t, broker, "portscan", nil)
	initAgent(t, publisher)
	runAgent(t, publisher)

	message, err := selector.MustBuiltin().NewMessageFromData("v3.report.vulnerability", map[string]any{
		"title":       "open telnet",
		"risk_rating": "HIGH",
	})
	if err != nil {
		t.Fatalf("NewMessageFromData: %v", err)
	}
	if err := publisher.PublishAsync(context.Background(), message, 0); err != nil {
		t.Fatalf("PublishAsync: %v", err)
	}
	got := testutil.RequireReceive(t, received, 5*time.Second, "async publish not delivered")
	if got.Data()["risk_rating"] != "HIGH" {
		t.Errorf("risk_rating = %v, want HIGH", got.Data()["risk_rating"])
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	broker := NewMemoryBroker()
	broker.FailDials(-1, errors.New("connection refused"))
	fake := clock.Fake(epoch)
	agent := newTestAgent(t, broker, "worker", func(c *AgentConfig) {
		c.Clock = fake
		c.ReconnectAttempts = 3
		c.ReconnectDelay = 5 * time.Second
	})

	result := make(chan error, 1)
	go func() { result <- agent.Init(context.Background()) }()
	for range 2 {
		fake.WaitForTimers(1)
		fake.Advance(5 * time.Second)
	}

	err := testutil.RequireReceive(t, result, 5*time.Second, "Init did not give up")
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Init = %v, want *TransportError", err)
	}
	if transport.Attempts != 3 || transport.Kind() != "transport" {
		t.Errorf("TransportError = %+v", transport)
	}
	if got := broker.Dials(); got != 3 {
		t.Errorf("Dials() = %d, want 3", got)
	}
}

func TestDialRecoversWithinAttempts(t *testing.T) {
	broker := NewMemoryBroker()
	broker.FailDials(2, errors.New("connection refused"))
	fake := clock.Fake(epoch)
	agent := newTestAgent(t, broker, "worker", func(c *AgentConfig) {
		c.Clock = fake
		c.ReconnectAttempts = 5
		c.ReconnectDelay = time.Second
	})

	result := make(chan error, 1)
	go func() { result <- agent.Init(context.Background()) }()
	for range 2 {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
	}
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Init did not return"); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestConsumerResubscribesAfterConnectionLoss(t *testing.T) {
	broker := NewMemoryBroker()
	received := make(chan string, 4)
	startConsumer(t, broker, "portscan", []string{"v3.asset.ip.v4"},
		HandlerFunc(func(_ context.Context, message selector.Message) error {
			received <- message.Data()["host"].(string)
			return nil
		}))
	publisher := newTestAgent(t, broker, "inject", nil)
	initAgent(t, publisher)
	ctx := context.Background()

	if err := publisher.Publish(ctx, "v3.asset.ip.v4", ipv4("10.0.0.5"), 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.RequireReceive(t, received, 5*time.Second, "before sever")
	testutil.WaitFor(t, 5*time.Second, func() bool {
		ready, unacked := broker.QueueDepth("portscan")
		return ready == 0 && unacked == 0
	}, "first message acked")

	dials := broker.Dials()
	broker.Sever()
	if err := publisher.Publish(ctx, "v3.asset.ip.v4", ipv4("10.0.0.6"), 0); err != nil {
		t.Fatalf("Publish after sever: %v", err)
	}
	if host := testutil.RequireReceive(t, received, 5*time.Second, "after sever"); host != "10.0.0.6" {
		t.Errorf("host = %q, want 10.0.0.6", host)
	}
	if broker.Dials() < dials+2 {
		t.Errorf("Dials() = %d, want at least %d (both agents redial)", broker.Dials(), dials+2)
	}
}

func TestWatchdogTerminatesSilentAgent(t *testing.T) {
	broker := NewMemoryBroker()
	fake := clock.Fake(epoch)
	exits := make(chan int, 1)
	agent := newTestAgent(t, broker, "worker", func(c *AgentConfig) {
		c.Clock = fake
		c.SilenceWindow = time.Hour
		c.Exit = func(code int, _ string) { exits <- code }
	})
	initAgent(t, agent)
	if err := agent.Subscribe([]string{"v3.#"}, HandlerFunc(func(context.Context, selector.Message) error { return nil })); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	result := runAgent(t, agent)

	fake.WaitForTimers(1)
	fake.Advance(time.Hour)

	if code := testutil.RequireReceive(t, exits, 5*time.Second, "watchdog did not exit"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	err := testutil.RequireReceive(t, result, 5*time.Second, "Run did not return")
	var silence *watchdog.SilenceError
	if !errors.As(err, &silence) {
		t.Fatalf("Run = %v, want *watchdog.SilenceError", err)
	}
}

func TestAgentLifecycleErrors(t *testing.T) {
	broker := NewMemoryBroker()
	noop := HandlerFunc(func(context.Context, selector.Message) error { return nil })

	t.Run("run before init", func(t *testing.T) {
		agent := newTestAgent(t, broker, "a", nil)
		if err := agent.Run(context.Background()); err == nil {
			t.Fatal("Run before Init succeeded")
		}
	})
	t.Run("subscribe twice", func(t *testing.T) {
		agent := newTestAgent(t, broker, "b", nil)
		if err := agent.Subscribe([]string{"v3.#"}, noop); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if err := agent.Subscribe([]string{"v3.asset"}, noop); err == nil {
			t.Fatal("second Subscribe succeeded")
		}
	})
	t.Run("invalid pattern", func(t *testing.T) {
		agent := newTestAgent(t, broker, "c", nil)
		if err := agent.Subscribe([]string{"v3.#.ip"}, noop); err == nil {
			t.Fatal("Subscribe accepted a non-trailing #")
		}
	})
	t.Run("publish after close", func(t *testing.T) {
		agent := newTestAgent(t, broker, "d", nil)
		agent.Close()
		err := agent.Publish(context.Background(), "v3.asset.ip.v4", ipv4("10.0.0.7"), 0)
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Publish after Close = %v, want ErrClosed", err)
		}
	})
	t.Run("missing broker", func(t *testing.T) {
		_, err := NewAgent(AgentConfig{Name: "e", Registry: selector.MustBuiltin(), Exchange: testExchange})
		if err == nil {
			t.Fatal("NewAgent without broker succeeded")
		}
	})
}
