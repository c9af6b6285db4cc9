// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Bus backends.
const (
	BusAMQP      = "amqp"
	BusJetStream = "jetstream"
	BusMemory    = "memory"
)

// Config is the runtime configuration of the scan runtime.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Engine configures the container engine connection.
	Engine EngineConfig `yaml:"engine"`

	// Bus configures the message bus every agent connects to.
	Bus BusConfig `yaml:"bus"`

	// Health configures readiness gating of long-running agents.
	Health HealthConfig `yaml:"health"`

	// Probe configures the container health probe attached to agents.
	Probe ProbeConfig `yaml:"probe"`

	// Inject configures the one-shot target injector.
	Inject InjectConfig `yaml:"inject"`

	// RedisURL is handed to agents that keep shared state.
	RedisURL string `yaml:"redis_url"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Engine   *EngineConfig `yaml:"engine,omitempty"`
	Bus      *BusConfig    `yaml:"bus,omitempty"`
	Health   *HealthConfig `yaml:"health,omitempty"`
	Inject   *InjectConfig `yaml:"inject,omitempty"`
	RedisURL string        `yaml:"redis_url,omitempty"`
}

// EngineConfig configures the container engine.
type EngineConfig struct {
	// Host is the engine endpoint, e.g. unix:///var/run/docker.sock.
	// Empty uses the DOCKER_HOST environment variable or the local
	// socket.
	Host string `yaml:"host"`

	// NetworkDriver is the driver of per-scan networks.
	// Default: overlay
	NetworkDriver string `yaml:"network_driver"`

	// Runtime names this scan runtime. It is hashed into artifact
	// names so runtimes sharing an engine do not collide.
	// Default: local
	Runtime string `yaml:"runtime"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	// Backend is amqp, jetstream, or memory.
	Backend string `yaml:"backend"`

	// URL is the broker address agents dial.
	URL string `yaml:"url"`

	// VirtualHost is the AMQP virtual host. Ignored by jetstream.
	VirtualHost string `yaml:"vhost"`

	// Exchange is the topic exchange (AMQP) or stream (JetStream)
	// shared by every agent of the runtime.
	Exchange string `yaml:"exchange"`

	// MaxConnections and MaxChannels bound the connection and channel
	// pools.
	MaxConnections int `yaml:"max_connections"`
	MaxChannels    int `yaml:"max_channels"`

	// MaxMessages caps the messages held by the exchange; further
	// publishes are rejected.
	MaxMessages int64 `yaml:"max_messages"`

	// MaxPriority is the highest queue priority. Zero disables
	// priorities.
	MaxPriority uint8 `yaml:"max_priority"`

	// ReconnectAttempts and ReconnectDelay bound connection
	// establishment.
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`

	// Concurrency is the number of handler workers per agent.
	Concurrency int `yaml:"concurrency"`

	// SilenceWindow is how long an agent tolerates receiving no
	// message before exiting. Zero disables the watchdog.
	SilenceWindow time.Duration `yaml:"silence_window"`
}

// HealthConfig configures readiness gating.
type HealthConfig struct {
	// Retries is the number of polls per service.
	Retries int `yaml:"retries"`

	// InitialDelay is the first backoff delay; each retry doubles it
	// up to MaxDelay.
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// Timeout bounds the whole gate.
	Timeout time.Duration `yaml:"timeout"`
}

// ProbeConfig configures the command-based container health probe.
type ProbeConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	StartPeriod time.Duration `yaml:"start_period"`
	Retries     int           `yaml:"retries"`
}

// InjectConfig configures target injection.
type InjectConfig struct {
	// Image is the injector agent image.
	Image string `yaml:"image"`

	// Timeout bounds the wait for the injector to complete.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Engine: EngineConfig{
			NetworkDriver: "overlay",
			Runtime:       "local",
		},
		Bus: BusConfig{
			Backend:           BusAMQP,
			URL:               "amqp://guest:guest@mq:5672/",
			VirtualHost:       "/",
			Exchange:          "scanfleet.topic",
			MaxConnections:    64,
			MaxChannels:       1024,
			MaxMessages:       1_000_000,
			MaxPriority:       10,
			ReconnectAttempts: 5,
			ReconnectDelay:    5 * time.Second,
			Concurrency:       3,
			SilenceWindow:     time.Hour,
		},
		Health: HealthConfig{
			Retries:      10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Timeout:      5 * time.Minute,
		},
		Probe: ProbeConfig{
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			StartPeriod: 10 * time.Second,
			Retries:     3,
		},
		Inject: InjectConfig{
			Image:   "agent_scanfleet_inject:latest",
			Timeout: 5 * time.Minute,
		},
		RedisURL: "redis://redis:6379",
	}
}

// Load loads configuration from the SCANFLEET_CONFIG environment
// variable. There are no fallbacks: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("SCANFLEET_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SCANFLEET_CONFIG environment variable not set; " +
			"set it to the path of your scanfleet.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${VAR} and ${VAR:-default} in address fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: a quiet agent is restarted sooner.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Bus: &BusConfig{SilenceWindow: 30 * time.Minute},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Engine != nil {
		setString(&c.Engine.Host, overrides.Engine.Host)
		setString(&c.Engine.NetworkDriver, overrides.Engine.NetworkDriver)
		setString(&c.Engine.Runtime, overrides.Engine.Runtime)
	}

	if bus := overrides.Bus; bus != nil {
		setString(&c.Bus.Backend, bus.Backend)
		setString(&c.Bus.URL, bus.URL)
		setString(&c.Bus.VirtualHost, bus.VirtualHost)
		setString(&c.Bus.Exchange, bus.Exchange)
		setValue(&c.Bus.MaxConnections, bus.MaxConnections)
		setValue(&c.Bus.MaxChannels, bus.MaxChannels)
		setValue(&c.Bus.MaxMessages, bus.MaxMessages)
		setValue(&c.Bus.MaxPriority, bus.MaxPriority)
		setValue(&c.Bus.ReconnectAttempts, bus.ReconnectAttempts)
		setValue(&c.Bus.ReconnectDelay, bus.ReconnectDelay)
		setValue(&c.Bus.Concurrency, bus.Concurrency)
		setValue(&c.Bus.SilenceWindow, bus.SilenceWindow)
	}

	if health := overrides.Health; health != nil {
		setValue(&c.Health.Retries, health.Retries)
		setValue(&c.Health.InitialDelay, health.InitialDelay)
		setValue(&c.Health.MaxDelay, health.MaxDelay)
		setValue(&c.Health.Timeout, health.Timeout)
	}

	if overrides.Inject != nil {
		setString(&c.Inject.Image, overrides.Inject.Image)
		setValue(&c.Inject.Timeout, overrides.Inject.Timeout)
	}

	setString(&c.RedisURL, overrides.RedisURL)
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setValue[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// address fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Engine.Host = expandVars(c.Engine.Host, vars)
	c.Bus.URL = expandVars(c.Bus.URL, vars)
	c.RedisURL = expandVars(c.RedisURL, vars)
	c.Inject.Image = expandVars(c.Inject.Image, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Engine.Runtime == "" {
		errs = append(errs, fmt.Errorf("engine.runtime is required"))
	}

	backends := []string{BusAMQP, BusJetStream, BusMemory}
	if !contains(backends, c.Bus.Backend) {
		errs = append(errs, fmt.Errorf("bus.backend must be one of: %v", backends))
	}
	if c.Bus.Backend != BusMemory && c.Bus.URL == "" {
		errs = append(errs, fmt.Errorf("bus.url is required for backend %s", c.Bus.Backend))
	}
	if c.Bus.Exchange == "" {
		errs = append(errs, fmt.Errorf("bus.exchange is required"))
	}
	if c.Bus.MaxConnections < 1 || c.Bus.MaxChannels < 1 {
		errs = append(errs, fmt.Errorf("bus.max_connections and bus.max_channels must be positive"))
	}
	if c.Bus.MaxMessages < 1 {
		errs = append(errs, fmt.Errorf("bus.max_messages must be positive"))
	}
	if c.Bus.ReconnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("bus.reconnect_attempts must be at least 1"))
	}
	if c.Bus.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("bus.concurrency must be at least 1"))
	}

	if c.Health.Retries < 1 {
		errs = append(errs, fmt.Errorf("health.retries must be at least 1"))
	}
	if c.Health.InitialDelay <= 0 || c.Health.MaxDelay < c.Health.InitialDelay {
		errs = append(errs, fmt.Errorf("health delays must satisfy 0 < initial_delay <= max_delay"))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("health.timeout must be positive"))
	}

	if c.Inject.Image == "" {
		errs = append(errs, fmt.Errorf("inject.image is required"))
	}
	if c.Inject.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inject.timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
