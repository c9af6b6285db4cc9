// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// Exit codes by error kind.
const (
	ExitFailure     = 1
	ExitInfeasible  = 2
	ExitDefinition  = 3
	ExitUnhealthy   = 4
	ExitInterrupted = 130
)

// ExitError signals a non-zero exit code without printing an extra
// error message; the command has already written its own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ExitCode maps err to a process exit status. An [*ExitError] carries
// its own code; otherwise the Kind of the first error in the chain
// that has one decides.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		switch kinded.Kind() {
		case "feasibility":
			return ExitInfeasible
		case "definition":
			return ExitDefinition
		case "health", "timeout":
			return ExitUnhealthy
		}
	}
	return ExitFailure
}
