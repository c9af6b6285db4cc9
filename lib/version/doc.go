// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] may be injected
// with -ldflags -X. Whatever is left unset is taken from the VCS stamp
// the Go toolchain embeds, so plain `go build` binaries still report
// their commit.
//
// [Info] formats "0.1.0-dev (abc1234, 2026-02-10T...)" for --version,
// [Full] adds the Go version and platform, and [Binary] prefixes a
// program name.
package version
