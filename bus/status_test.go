// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/scanfleet/lib/testutil"
)

// fetchStatus GETs the status page at address.
func fetchStatus(t *testing.T, address string) (string, int) {
	t.Helper()
	response, err := http.Get("http://" + address + StatusPath)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading status: %v", err)
	}
	return string(body), response.StatusCode
}

func TestStatusServerHandler(t *testing.T) {
	var healthy atomic.Bool
	server := NewStatusServer("127.0.0.1:0", healthy.Load, testutil.Logger(t))

	tests := []struct {
		name     string
		method   string
		path     string
		healthy  bool
		wantCode int
		wantBody string
	}{
		{"healthy", http.MethodGet, StatusPath, true, http.StatusOK, "OK"},
		{"unhealthy", http.MethodGet, StatusPath, false, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"other path", http.MethodGet, "/metrics", true, http.StatusNotFound, ""},
		{"post", http.MethodPost, StatusPath, true, http.StatusMethodNotAllowed, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			healthy.Store(test.healthy)
			recorder := httptest.NewRecorder()
			server.ServeHTTP(recorder, httptest.NewRequest(test.method, test.path, nil))
			if recorder.Code != test.wantCode {
				t.Errorf("code = %d, want %d", recorder.Code, test.wantCode)
			}
			if test.wantBody != "" && recorder.Body.String() != test.wantBody {
				t.Errorf("body = %q, want %q", recorder.Body.String(), test.wantBody)
			}
		})
	}
}

func TestStatusServerServe(t *testing.T) {
	server := NewStatusServer("127.0.0.1:0", func() bool { return true }, testutil.Logger(t))
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- server.Serve(ctx) }()

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "status server not listening")
	if body, code := fetchStatus(t, server.Addr().String()); code != http.StatusOK || body != "OK" {
		t.Errorf("status = %d %q, want 200 OK", code, body)
	}

	cancel()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Serve did not return"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestAgentHealthyFollowsRun(t *testing.T) {
	broker := NewMemoryBroker()
	agent := newTestAgent(t, broker, "health", nil)
	if agent.Healthy() {
		t.Fatal("agent healthy before Init")
	}
	initAgent(t, agent)
	if agent.Healthy() {
		t.Fatal("agent healthy before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- agent.Run(ctx) }()
	testutil.WaitFor(t, 5*time.Second, agent.Healthy, "agent never became healthy")

	cancel()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Run did not return"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agent.Healthy() {
		t.Error("agent still healthy after Run returned")
	}
}
