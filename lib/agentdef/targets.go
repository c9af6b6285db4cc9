// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/scanfleet/lib/codec"
)

// TargetsMountPath is where the injector finds the scan's targets.
const TargetsMountPath = "/run/scanfleet/targets.bundle"

// targetsVersion is the current bundle format.
const targetsVersion = 1

// Target is one serialized message to inject into a scan.
type Target struct {
	Selector string `json:"selector"`
	Raw      []byte `json:"raw"`
}

type targetBundle struct {
	Version  int      `json:"version"`
	Messages []Target `json:"messages"`
}

// EncodeTargets produces a zstd-compressed CBOR bundle.
func EncodeTargets(targets []Target) ([]byte, error) {
	for i, target := range targets {
		if err := ValidateSelectorPattern(target.Selector); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
	}
	data, err := codec.MarshalCompressed(targetBundle{Version: targetsVersion, Messages: targets})
	if err != nil {
		return nil, fmt.Errorf("encoding targets: %w", err)
	}
	return data, nil
}

// DecodeTargets parses a bundle produced by [EncodeTargets].
func DecodeTargets(data []byte) ([]Target, error) {
	var bundle targetBundle
	if err := codec.UnmarshalCompressed(data, &bundle); err != nil {
		return nil, fmt.Errorf("decoding targets: %w", err)
	}
	if bundle.Version != targetsVersion {
		return nil, fmt.Errorf("decoding targets: unsupported bundle version %d", bundle.Version)
	}
	return bundle.Messages, nil
}

// ReadTargetsFile reads the bundle mounted into the injector.
func ReadTargetsFile(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	return DecodeTargets(data)
}
