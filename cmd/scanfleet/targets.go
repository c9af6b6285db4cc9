// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/scanfleet/lib/selector"
)

// Target selectors the shorthand flags produce.
const (
	selectorIPv4   = "v3.asset.ip.v4"
	selectorIPv6   = "v3.asset.ip.v6"
	selectorDomain = "v3.asset.domain_name"
)

// targetFile is the YAML layout of a --targets file:
//
//	targets:
//	  - selector: v3.asset.ip.v4
//	    data: {host: 10.0.0.1, version: 4}
type targetFile struct {
	Targets []struct {
		Selector string         `yaml:"selector"`
		Data     map[string]any `yaml:"data"`
	} `yaml:"targets"`
}

// targetInputs are the raw target arguments of scan run.
type targetInputs struct {
	ips     []string
	domains []string
	file    string
}

// build serializes every target against registry. File targets come
// first, then IPs, then domains, each in the order given.
func (in targetInputs) build(registry *selector.Registry) ([]selector.Message, error) {
	var messages []selector.Message

	if in.file != "" {
		data, err := os.ReadFile(in.file)
		if err != nil {
			return nil, fmt.Errorf("reading targets: %w", err)
		}
		var parsed targetFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", in.file, err)
		}
		for i, target := range parsed.Targets {
			message, err := registry.NewMessageFromData(target.Selector, target.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: target %d: %w", in.file, i, err)
			}
			messages = append(messages, message)
		}
	}

	for _, value := range in.ips {
		selectorName, data, err := ipTarget(value)
		if err != nil {
			return nil, err
		}
		message, err := registry.NewMessageFromData(selectorName, data)
		if err != nil {
			return nil, fmt.Errorf("ip %s: %w", value, err)
		}
		messages = append(messages, message)
	}

	for _, domain := range in.domains {
		domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
		if domain == "" {
			return nil, fmt.Errorf("empty domain target")
		}
		message, err := registry.NewMessageFromData(selectorDomain, map[string]any{"name": domain})
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", domain, err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// ipTarget converts an address or CIDR prefix into an ip.v4 or ip.v6
// payload. A prefix carries its length as the mask.
func ipTarget(value string) (string, map[string]any, error) {
	var addr netip.Addr
	mask := ""
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return "", nil, fmt.Errorf("ip target %q: %w", value, err)
		}
		addr = prefix.Masked().Addr()
		mask = strconv.Itoa(prefix.Bits())
	} else {
		parsed, err := netip.ParseAddr(value)
		if err != nil {
			return "", nil, fmt.Errorf("ip target %q: %w", value, err)
		}
		addr = parsed
	}
	addr = addr.Unmap()

	selectorName, version := selectorIPv4, 4
	if addr.Is6() {
		selectorName, version = selectorIPv6, 6
	}
	data := map[string]any{
		"host":       addr.String(),
		"version":    version,
		"is_private": addr.IsPrivate() || addr.IsLoopback(),
	}
	if mask != "" {
		data["mask"] = mask
	}
	return selectorName, data, nil
}
