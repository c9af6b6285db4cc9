// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "errors"

var (
	// ErrNotFound reports a missing image or object.
	ErrNotFound = errors.New("engine: not found")
	// ErrPermission reports that the caller may not use the engine.
	ErrPermission = errors.New("engine: permission denied")
	// ErrUnavailable reports that the engine cannot be reached.
	ErrUnavailable = errors.New("engine: unavailable")
)
