// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Group is a named collection of agent instances forming one scan.
type Group struct {
	Kind        string     `yaml:"kind" json:"kind"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Agents      []Settings `yaml:"agents" json:"agents"`
}

// ParseGroup parses and validates a group document.
func ParseGroup(data []byte) (*Group, error) {
	var group Group
	if err := yaml.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("parsing agent group: %w", err)
	}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	return &group, nil
}

// LoadGroup reads and parses a group file.
func LoadGroup(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent group: %w", err)
	}
	group, err := ParseGroup(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return group, nil
}

// Validate checks the group and every agent in it.
func (g *Group) Validate() error {
	if g.Kind != "" && g.Kind != "AgentGroup" {
		return fmt.Errorf("agent group: kind %q, want AgentGroup", g.Kind)
	}
	if len(g.Agents) == 0 {
		return fmt.Errorf("agent group %q: no agents", g.Name)
	}
	for i := range g.Agents {
		if err := g.Agents[i].Validate(); err != nil {
			return fmt.Errorf("agent group %q: agent %d: %w", g.Name, i, err)
		}
	}
	return nil
}

// AppendArgs adds caller-supplied arguments to every agent. An argument
// replaces one of the same name already on the agent.
func (g *Group) AppendArgs(args []Arg) {
	for i := range g.Agents {
		agent := &g.Agents[i]
		for _, arg := range args {
			replaced := false
			for j := range agent.Args {
				if agent.Args[j].Name == arg.Name {
					agent.Args[j] = arg
					replaced = true
					break
				}
			}
			if !replaced {
				agent.Args = append(agent.Args, arg)
			}
		}
	}
}

// Keys returns the agent keys in declaration order, without duplicates.
func (g *Group) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, agent := range g.Agents {
		if seen[agent.Key] {
			continue
		}
		seen[agent.Key] = true
		keys = append(keys, agent.Key)
	}
	return keys
}
