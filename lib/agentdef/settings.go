// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/bureau-foundation/scanfleet/lib/codec"
)

// Paths where every agent container finds its instance documents.
const (
	SettingsMountPath   = "/run/scanfleet/settings.cbor"
	DefinitionMountPath = "/run/scanfleet/agent.yaml"
)

// Where an agent serves its status page when settings leave it unset.
const (
	DefaultHealthcheckHost = "0.0.0.0"
	DefaultHealthcheckPort = 5000
)

// Settings are the per-instance parameters of one agent in a scan.
// Zero values mean "not set": the manifest value, then a hard default,
// applies instead.
type Settings struct {
	Key     string `yaml:"key" json:"key"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Args    []Arg  `yaml:"args,omitempty" json:"args,omitempty"`

	BusURL           string `yaml:"bus_url,omitempty" json:"bus_url,omitempty"`
	BusVirtualHost   string `yaml:"bus_vhost,omitempty" json:"bus_vhost,omitempty"`
	BusExchangeTopic string `yaml:"bus_exchange_topic,omitempty" json:"bus_exchange_topic,omitempty"`
	BusBackend       string `yaml:"bus_backend,omitempty" json:"bus_backend,omitempty"`
	RedisURL         string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`

	Constraints   []string   `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Mounts        []string   `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	MemLimit      int64      `yaml:"mem_limit,omitempty" json:"mem_limit,omitempty"`
	RestartPolicy string     `yaml:"restart_policy,omitempty" json:"restart_policy,omitempty"`
	OpenPorts     []OpenPort `yaml:"open_ports,omitempty" json:"open_ports,omitempty"`
	Replicas      uint64     `yaml:"replicas,omitempty" json:"replicas,omitempty"`

	HealthcheckHost string `yaml:"healthcheck_host,omitempty" json:"healthcheck_host,omitempty"`
	HealthcheckPort uint32 `yaml:"healthcheck_port,omitempty" json:"healthcheck_port,omitempty"`

	// InstanceID distinguishes agents sharing a key within one scan.
	// The orchestrator assigns it; callers leave it empty.
	InstanceID string `yaml:"-" json:"instance_id,omitempty"`
	// ScanID is the universe the instance belongs to. The orchestrator
	// assigns it.
	ScanID string `yaml:"-" json:"scan_id,omitempty"`
}

// HealthcheckAddress returns the host:port the agent's status page
// listens on, with defaults applied.
func (s Settings) HealthcheckAddress() string {
	host, port := s.HealthcheckHost, s.HealthcheckPort
	if host == "" {
		host = DefaultHealthcheckHost
	}
	if port == 0 {
		port = DefaultHealthcheckPort
	}
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}

// ImageName maps an agent key to its image repository name:
// "agent/acme/nmap" becomes "agent_acme_nmap".
func ImageName(key string) (string, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "agent" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("agent key %q: must be agent/<organization>/<name>", key)
	}
	return strings.Join(parts, "_"), nil
}

// Validate reports settings errors.
func (s *Settings) Validate() error {
	if _, err := ImageName(s.Key); err != nil {
		return err
	}
	if err := ValidateRestartPolicy(s.RestartPolicy); err != nil {
		return fmt.Errorf("agent %s: %w", s.Key, err)
	}
	if s.MemLimit < 0 {
		return fmt.Errorf("agent %s: mem_limit must not be negative", s.Key)
	}
	for _, arg := range s.Args {
		if err := arg.Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", s.Key, err)
		}
	}
	return nil
}

// Clone returns a deep copy, so the orchestrator can fill in endpoints
// without touching the caller's group.
func (s Settings) Clone() Settings {
	clone := s
	clone.Args = append([]Arg(nil), s.Args...)
	clone.Constraints = append([]string(nil), s.Constraints...)
	clone.Mounts = append([]string(nil), s.Mounts...)
	clone.OpenPorts = append([]OpenPort(nil), s.OpenPorts...)
	return clone
}

// Arg returns the named argument and whether it is present.
func (s *Settings) Arg(name string) (Arg, bool) {
	for _, arg := range s.Args {
		if arg.Name == name {
			return arg, true
		}
	}
	return Arg{}, false
}

// EncodeSettings produces the binary settings blob mounted at
// [SettingsMountPath].
func EncodeSettings(settings Settings) ([]byte, error) {
	data, err := codec.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings for %s: %w", settings.Key, err)
	}
	return data, nil
}

// DecodeSettings parses a settings blob.
func DecodeSettings(data []byte) (Settings, error) {
	var settings Settings
	if err := codec.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return settings, nil
}

// ReadSettingsFile reads the settings blob mounted into an agent
// container.
func ReadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	return DecodeSettings(data)
}
