// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the scanfleet CLI.
//
// [Command] is a named node with optional [Command.Subcommands], a
// [pflag.FlagSet] factory, and a Run function. [Command.Execute]
// routes positional arguments to subcommands, parses flags, and
// prints help. An unknown subcommand or flag gets a "did you mean"
// suggestion when a known name is within edit distance 3.
//
// [ExitCode] maps an error to the process exit status from its Kind:
// infeasible scans exit 2, broken agent manifests 3, and health or
// timeout failures 4. [NewCommandLogger] picks a text or JSON slog
// handler depending on whether stderr is a terminal.
package cli
