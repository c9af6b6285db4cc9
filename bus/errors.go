// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"
)

// ErrPublishRejected is returned when the exchange is at its message
// cap. The overflow policy rejects new publishes instead of evicting
// old messages.
var ErrPublishRejected = errors.New("bus: publish rejected, exchange is full")

// ErrClosed is returned by operations on a closed connection, channel,
// or agent.
var ErrClosed = errors.New("bus: closed")

// TransportError reports a broker operation that failed after the
// reconnect policy was exhausted, or on a resource the broker
// invalidated.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("bus %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind returns "transport".
func (e *TransportError) Kind() string { return "transport" }

// HandlerPanicError wraps a panic raised by a message handler. The
// consumer treats it like any other handler error.
type HandlerPanicError struct {
	Selector string
	Value    any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panicked on %s: %v", e.Selector, e.Value)
}
