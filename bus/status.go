// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// StatusPath is the page the container health probe fetches.
const StatusPath = "/status"

// Status page bodies. The probe passes only on statusOK.
const (
	statusOK          = "OK"
	statusUnavailable = "UNAVAILABLE"
)

// StatusServer serves an agent's health on [StatusPath] for the
// container engine's probe. Serve blocks until its context is
// cancelled, then shuts down gracefully.
type StatusServer struct {
	address string
	healthy func() bool
	logger  *slog.Logger

	// shutdownTimeout bounds the wait for in-flight probes after
	// cancellation.
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// NewStatusServer returns a server for address whose page reports OK
// while healthy returns true.
func NewStatusServer(address string, healthy func() bool, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		address:         address,
		healthy:         healthy,
		logger:          logger,
		shutdownTimeout: 5 * time.Second,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the server accepts connections.
func (s *StatusServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed;
// with port 0 it carries the assigned port.
func (s *StatusServer) Addr() net.Addr {
	return s.addr
}

// ServeHTTP answers GET and HEAD on [StatusPath].
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != StatusPath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, statusUnavailable)
		return
	}
	io.WriteString(w, statusOK)
}

// Serve listens on the configured address until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("status page: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.logger.Debug("status page listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		if err != nil {
			return fmt.Errorf("status page: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status page shutdown: %w", err)
	}
	return nil
}
