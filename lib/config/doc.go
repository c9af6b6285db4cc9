// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the scan
// runtime.
//
// Configuration is loaded from a single file specified by either the
// SCANFLEET_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production shortens the bus silence
// window unless the file says otherwise.
//
// Durations are written as Go duration strings ("30s", "5m").
// ${VAR} and ${VAR:-default} patterns are expanded in the engine host,
// bus URL, Redis URL, and injector image after loading. No other
// environment variables override config values.
//
// This package depends on no other scanfleet packages.
package config
