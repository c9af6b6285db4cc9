// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionLabel is the image label carrying the agent manifest text.
const DefinitionLabel = "agent_definition"

// Restart policies. [RestartNone] marks a one-shot agent: it runs to
// completion once and is excluded from readiness gating.
const (
	RestartNone      = "none"
	RestartOnFailure = "on-failure"
	RestartAny       = "any"
)

// Definition is an agent manifest.
type Definition struct {
	Kind          string     `yaml:"kind" json:"kind"`
	Name          string     `yaml:"name" json:"name"`
	Version       string     `yaml:"version,omitempty" json:"version,omitempty"`
	Description   string     `yaml:"description,omitempty" json:"description,omitempty"`
	InSelectors   []string   `yaml:"in_selectors,omitempty" json:"in_selectors,omitempty"`
	OutSelectors  []string   `yaml:"out_selectors,omitempty" json:"out_selectors,omitempty"`
	Mounts        []string   `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	Constraints   []string   `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	MemLimit      int64      `yaml:"mem_limit,omitempty" json:"mem_limit,omitempty"`
	RestartPolicy string     `yaml:"restart_policy,omitempty" json:"restart_policy,omitempty"`
	OpenPorts     []OpenPort `yaml:"open_ports,omitempty" json:"open_ports,omitempty"`
	// ServiceName overrides the generated service name. Only agents
	// that must be reachable under a fixed name set it.
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	// Args are the agent's declared arguments with default values.
	Args []Arg `yaml:"args,omitempty" json:"args,omitempty"`
}

// OpenPort maps a container port to a published port.
type OpenPort struct {
	SourcePort      uint32 `yaml:"src_port" json:"src_port"`
	DestinationPort uint32 `yaml:"dest_port" json:"dest_port"`
}

// ParseDefinition parses and validates manifest text.
func ParseDefinition(data []byte) (*Definition, error) {
	var definition Definition
	if err := yaml.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("parsing agent definition: %w", err)
	}
	if err := definition.Validate(); err != nil {
		return nil, err
	}
	return &definition, nil
}

// ReadDefinitionFile parses the manifest mounted into an agent
// container.
func ReadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent definition: %w", err)
	}
	return ParseDefinition(data)
}

// Validate reports manifest errors an author must fix before the image
// is usable.
func (d *Definition) Validate() error {
	if d.Kind != "" && d.Kind != "Agent" {
		return fmt.Errorf("agent definition: kind %q, want Agent", d.Kind)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent definition: name is required")
	}
	if err := ValidateRestartPolicy(d.RestartPolicy); err != nil {
		return fmt.Errorf("agent definition %s: %w", d.Name, err)
	}
	if d.MemLimit < 0 {
		return fmt.Errorf("agent definition %s: mem_limit must not be negative", d.Name)
	}
	for _, selector := range append(append([]string{}, d.InSelectors...), d.OutSelectors...) {
		if err := ValidateSelectorPattern(selector); err != nil {
			return fmt.Errorf("agent definition %s: %w", d.Name, err)
		}
	}
	for _, arg := range d.Args {
		if err := arg.Validate(); err != nil {
			return fmt.Errorf("agent definition %s: %w", d.Name, err)
		}
	}
	return nil
}

// ValidateRestartPolicy accepts the empty string (unset) and the three
// restart policies.
func ValidateRestartPolicy(policy string) error {
	switch policy {
	case "", RestartNone, RestartOnFailure, RestartAny:
		return nil
	default:
		return fmt.Errorf("restart policy %q: must be none, on-failure, or any", policy)
	}
}

// ValidateSelectorPattern checks a selector or binding pattern: dotted
// non-empty words, where "*" matches one word and a trailing "#"
// matches any remaining words.
func ValidateSelectorPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("selector is empty")
	}
	words := strings.Split(pattern, ".")
	for i, word := range words {
		switch {
		case word == "":
			return fmt.Errorf("selector %q has an empty segment", pattern)
		case word == "#" && i != len(words)-1:
			return fmt.Errorf("selector %q: # is only allowed as the last segment", pattern)
		case strings.ContainsAny(word, " \t*#>") && word != "*" && word != "#":
			return fmt.Errorf("selector %q: invalid segment %q", pattern, word)
		}
	}
	return nil
}
