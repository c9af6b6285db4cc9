// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import "fmt"

// MissingDefinitionError reports an agent image without an embedded
// manifest. It is not retryable: the image must be rebuilt.
type MissingDefinitionError struct {
	Image string
}

func (e *MissingDefinitionError) Error() string {
	return fmt.Sprintf("image %s has no %q label", e.Image, "agent_definition")
}

// Kind classifies the error for exit-code mapping.
func (e *MissingDefinitionError) Kind() string { return "definition" }

// ImageNotFoundError reports an agent key and version with no local
// image.
type ImageNotFoundError struct {
	Key     string
	Version string
}

func (e *ImageNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no local image for agent %s", e.Key)
	}
	return fmt.Sprintf("no local image for agent %s version %s", e.Key, e.Version)
}

// Kind classifies the error for exit-code mapping.
func (e *ImageNotFoundError) Kind() string { return "feasibility" }
