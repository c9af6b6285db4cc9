// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard binary entrypoint error handler. Use it in main() for
// errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	FatalCode(err, 1)
}

// FatalCode is [Fatal] with an explicit exit code.
func FatalCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}

// Terminate writes "exiting: reason" to stderr and exits with code.
// Long-running agents call it when they decide to stop and rely on
// their supervisor to restart them.
func Terminate(code int, reason string) {
	fmt.Fprintf(os.Stderr, "exiting: %s\n", reason)
	os.Exit(code)
}
