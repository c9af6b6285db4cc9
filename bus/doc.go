// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus connects scan agents to the shared message bus.
//
// Every agent in a scan talks to its peers through one topic exchange.
// Messages are published under their selector (see lib/selector), so
// the selector is both the routing key and the schema name. An agent
// owns one durable queue, named after the agent, bound to each of the
// selector patterns it consumes. Patterns use topic wildcards: "*"
// matches exactly one word and "#" matches zero or more.
//
// [Agent] is the transport an agent implementation embeds:
//
//	agent, err := bus.NewAgent(bus.AgentConfig{
//	    Name:        "portscan",
//	    Broker:      broker,
//	    Registry:    registry,
//	    Exchange:    "scanfleet.topic",
//	    Logger:      logger,
//	})
//	if err := agent.Init(ctx); err != nil { ... }
//	agent.Subscribe([]string{"v3.asset.ip.#"}, handler)
//	err = agent.Run(ctx)
//
// Delivery is at-least-once with manual acknowledgment. A message whose
// handler returns an error (or panics) is requeued once; if the
// redelivered copy fails again it is dropped. This retry-once-then-drop
// policy is fixed and not configurable.
//
// Run owns the connection-management goroutine: it declares the
// exchange and queue, consumes, and feeds a fixed pool of handler
// workers through a channel sized to the broker prefetch, so intake
// never waits on handler work. When the broker invalidates the consumer
// channel, the whole declare/bind/consume sequence restarts from
// scratch. Dialing retries a fixed number of times with a fixed delay,
// then fails with a [*TransportError].
//
// Connections and channels come from two bounded pools ([Pool]). Each
// operation acquires what it needs and returns it, and resources that
// the broker closed are discarded instead of reused.
//
// A liveness watchdog terminates the process when no message arrives
// for the configured silence window, relying on the container
// supervisor to restart it.
//
// Three [Broker] implementations exist: [AMQPBroker] (RabbitMQ),
// [JetStreamBroker] (NATS JetStream), and [MemoryBroker], an in-process
// broker with the same routing, priority, overflow, and redelivery
// semantics, used by tests and local runs.
package bus
