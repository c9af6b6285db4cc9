// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/scanfleet/lib/agentdef"
	"github.com/bureau-foundation/scanfleet/lib/clock"
	"github.com/bureau-foundation/scanfleet/lib/process"
	"github.com/bureau-foundation/scanfleet/lib/selector"
	"github.com/bureau-foundation/scanfleet/lib/watchdog"
)

// Defaults applied by [NewAgent] to zero-valued config fields.
const (
	DefaultConcurrency       = 3
	DefaultMaxConnections    = 64
	DefaultMaxChannels       = 1024
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 5 * time.Second

	asyncQueueSize = 256
)

// errConsumerLost marks a consumer whose channel the broker closed.
// The consume loop restarts the subscription from scratch on it.
var errConsumerLost = errors.New("consumer channel lost")

// Handler processes one decoded message. Returning an error (or
// panicking) requeues the message once; a second failure drops it.
type Handler interface {
	ProcessMessage(ctx context.Context, message selector.Message) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, message selector.Message) error

// ProcessMessage calls f.
func (f HandlerFunc) ProcessMessage(ctx context.Context, message selector.Message) error {
	return f(ctx, message)
}

// AgentConfig configures an [Agent]. Name, Broker, Registry, and
// Exchange are required.
type AgentConfig struct {
	// Name names the agent's durable queue. Replicas of one agent
	// share the queue and compete for its messages.
	Name     string
	Broker   Broker
	Registry *selector.Registry

	// Exchange is the runtime's topic exchange. MaxMessages caps it.
	Exchange    string
	MaxMessages int64

	// MaxPriority enables per-message priority on the agent's queue.
	// Publish priorities above it are capped.
	MaxPriority uint8

	MaxConnections int
	MaxChannels    int

	// Concurrency is the number of handler workers. Prefetch bounds the
	// unacknowledged deliveries and defaults to Concurrency.
	Concurrency int
	Prefetch    int

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// SilenceWindow terminates the process when no message arrives for
	// this long while subscribed. Zero disables it.
	SilenceWindow time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Exit is called with a non-zero code when the silence watchdog
	// fires. Defaults to [process.Terminate].
	Exit func(code int, reason string)
}

// Agent is the bus transport of one agent process. Publish methods are
// safe for concurrent use; Init, Subscribe, and Run are called once,
// in that order.
type Agent struct {
	config      AgentConfig
	clock       clock.Clock
	logger      *slog.Logger
	connections *Pool[Connection]
	channels    *Pool[Channel]
	watchdog    *watchdog.Watchdog
	async       chan asyncPublish

	mu          sync.Mutex
	initialized bool
	running     bool
	closed      bool
	bindings    []string
	handler     Handler
}

type asyncPublish struct {
	message  selector.Message
	priority uint8
}

// NewAgent validates config, fills defaults, and returns an agent. No
// broker connection is made until [Agent.Init].
func NewAgent(config AgentConfig) (*Agent, error) {
	switch {
	case config.Name == "":
		return nil, errors.New("bus agent: name is required")
	case config.Broker == nil:
		return nil, errors.New("bus agent: broker is required")
	case config.Registry == nil:
		return nil, errors.New("bus agent: selector registry is required")
	case config.Exchange == "":
		return nil, errors.New("bus agent: exchange is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Prefetch <= 0 {
		config.Prefetch = config.Concurrency
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultMaxConnections
	}
	if config.MaxChannels <= 0 {
		config.MaxChannels = DefaultMaxChannels
	}
	if config.ReconnectAttempts <= 0 {
		config.ReconnectAttempts = DefaultReconnectAttempts
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Exit == nil {
		config.Exit = process.Terminate
	}

	agent := &Agent{
		config: config,
		clock:  config.Clock,
		logger: config.Logger.With("agent", config.Name, "exchange", config.Exchange),
		async:  make(chan asyncPublish, asyncQueueSize),
	}
	agent.watchdog = watchdog.New(config.Clock, config.SilenceWindow)
	agent.connections = NewPool("bus connection", config.MaxConnections,
		agent.dial,
		func(conn Connection) bool { return !conn.IsClosed() },
		func(conn Connection) { conn.Close() },
	)
	agent.channels = NewPool("bus channel", config.MaxChannels,
		agent.openChannel,
		func(ch Channel) bool { return !ch.IsClosed() },
		func(ch Channel) { ch.Close() },
	)
	return agent, nil
}

// Name returns the agent's queue name.
func (a *Agent) Name() string { return a.config.Name }

// Init connects to the broker and declares the exchange.
func (a *Agent) Init(ctx context.Context) error {
	err := a.channels.With(ctx, func(ch Channel) error {
		return ch.DeclareExchange(ctx, a.exchangeSpec())
	})
	if err != nil {
		return fmt.Errorf("initializing bus agent %s: %w", a.config.Name, err)
	}
	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	a.logger.Info("bus agent initialized")
	return nil
}

// Subscribe binds the agent's queue to each selector pattern and sets
// the handler that Run dispatches to. It may be called once, before
// Run.
func (a *Agent) Subscribe(selectors []string, handler Handler) error {
	if handler == nil {
		return errors.New("subscribe: handler is required")
	}
	if len(selectors) == 0 {
		return errors.New("subscribe: at least one selector is required")
	}
	for _, pattern := range selectors {
		if err := agentdef.ValidateSelectorPattern(pattern); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler != nil {
		return errors.New("subscribe: agent already has a handler")
	}
	if a.running {
		return errors.New("subscribe: agent is already running")
	}
	a.bindings = append([]string(nil), selectors...)
	a.handler = handler
	return nil
}

// Run consumes until ctx is cancelled, the reconnect policy is
// exhausted, or the silence watchdog fires. It also drains
// [Agent.PublishAsync]. Run returns nil on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case !a.initialized:
		a.mu.Unlock()
		return errors.New("bus agent: Run before Init")
	case a.running:
		a.mu.Unlock()
		return errors.New("bus agent: already running")
	}
	a.running = true
	handler, bindings := a.handler, a.bindings
	a.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.publishLoop(groupCtx) })
	if handler != nil {
		a.watchdog.Touch()
		group.Go(func() error { return a.consumeLoop(groupCtx, handler, bindings) })
		group.Go(func() error { return a.watch(groupCtx) })
	}
	err := group.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return err
}

// Healthy reports whether the agent is initialized and inside Run.
func (a *Agent) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized && a.running && !a.closed
}

// Publish serializes data for selectorName and publishes it, blocking
// until the broker accepts it. Priority is capped at the configured
// maximum.
func (a *Agent) Publish(ctx context.Context, selectorName string, data map[string]any, priority uint8) error {
	message, err := a.config.Registry.NewMessageFromData(selectorName, data)
	if err != nil {
		return err
	}
	return a.PublishMessage(ctx, message, priority)
}

// PublishMessage publishes an already-serialized message, blocking
// until the broker accepts it. A publish that fails because the broker
// closed the channel is retried once on a fresh channel.
func (a *Agent) PublishMessage(ctx context.Context, message selector.Message, priority uint8) error {
	if a.isClosed() {
		return ErrClosed
	}
	priority = min(priority, a.config.MaxPriority)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var stale bool
		stale, err = a.publishOnce(ctx, message, priority)
		if err == nil || !stale || ctx.Err() != nil {
			break
		}
		a.logger.Warn("publish channel closed, retrying", "selector", message.Selector(), "error", err)
	}
	if err != nil {
		return fmt.Errorf("publishing %s: %w", message.Selector(), err)
	}
	return nil
}

func (a *Agent) publishOnce(ctx context.Context, message selector.Message, priority uint8) (bool, error) {
	ch, err := a.channels.Acquire(ctx)
	if err != nil {
		return false, err
	}
	err = ch.Publish(ctx, a.config.Exchange, message.Selector(), message.Raw(), priority)
	stale := err != nil && ch.IsClosed()
	a.channels.Release(ch)
	return stale, err
}

// PublishAsync schedules message for publication by the Run loop and
// returns without waiting for the broker. Handlers use it when they
// must not block their worker. Failures are logged, not returned. It
// blocks only while the schedule queue is full.
func (a *Agent) PublishAsync(ctx context.Context, message selector.Message, priority uint8) error {
	if a.isClosed() {
		return ErrClosed
	}
	select {
	case a.async <- asyncPublish{message: message, priority: priority}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases pooled channels and connections. Run must have
// returned.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.channels.Close()
	a.connections.Close()
	return nil
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Agent) exchangeSpec() ExchangeSpec {
	return ExchangeSpec{Name: a.config.Exchange, MaxMessages: a.config.MaxMessages}
}

// dial opens a connection, retrying ReconnectAttempts times with
// ReconnectDelay between attempts.
func (a *Agent) dial(ctx context.Context) (Connection, error) {
	attempts := a.config.ReconnectAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := a.config.Broker.Dial(ctx)
		if err == nil {
			if attempt > 1 {
				a.logger.Info("bus connection established", "attempt", attempt)
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		a.logger.Warn("bus dial failed", "attempt", attempt, "attempts", attempts, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.clock.After(a.config.ReconnectDelay):
		}
	}
	return nil, &TransportError{Op: "dial", Attempts: attempts, Err: lastErr}
}

// openChannel borrows a pooled connection just long enough to open a
// channel on it.
func (a *Agent) openChannel(ctx context.Context) (Channel, error) {
	conn, err := a.connections.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer a.connections.Release(conn)
	ch, err := conn.Channel()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Err: err}
	}
	return ch, nil
}

func (a *Agent) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if pending := len(a.async); pending > 0 {
				a.logger.Warn("discarding scheduled publishes", "count", pending)
			}
			return nil
		case request := <-a.async:
			if err := a.PublishMessage(ctx, request.message, request.priority); err != nil {
				a.logger.Error("scheduled publish failed", "selector", request.message.Selector(), "error", err)
			}
		}
	}
}

func (a *Agent) watch(ctx context.Context) error {
	err := a.watchdog.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	a.logger.Error("no messages received within silence window, terminating",
		"window", a.watchdog.Window(), "last_seen", a.watchdog.LastSeen())
	a.config.Exit(1, err.Error())
	return err
}
