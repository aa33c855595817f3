// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/coffer/pkg/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ============================================================================
// WebSocket bus end to end
// ============================================================================

func TestWebSocketBus_PollsSlave(t *testing.T) {
	slave := telemetry.NewServer(telemetry.DefaultSlaveAddress, quietLogger())
	rec := telemetry.Record{Hour: 8, Minute: 30, Day: 14, Month: 2, Year: 2025, Temperature: 22.25, Humidity: 51, SoundPercent: 12}
	slave.Commit(rec)

	srv := httptest.NewServer(&Handler{Serve: slave.ServeConn, Logger: quietLogger()})
	defer srv.Close()

	conn, err := OpenWebSocket(context.Background(), wsURL(srv), DialOptions{})
	if err != nil {
		t.Fatalf("OpenWebSocket: %v", err)
	}
	bus := telemetry.NewStreamBus("ws-test", conn, time.Second)
	defer bus.Close()

	link := telemetry.NewLink(bus, telemetry.LinkConfig{Timeout: 2 * time.Second, Logger: quietLogger()})
	got, err := link.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Record != rec {
		t.Errorf("record = %+v, want %+v", got.Record, rec)
	}
}

func TestWebSocketBus_NotReady(t *testing.T) {
	slave := telemetry.NewServer(telemetry.DefaultSlaveAddress, quietLogger())
	srv := httptest.NewServer(&Handler{Serve: slave.ServeConn, Logger: quietLogger()})
	defer srv.Close()

	conn, err := OpenWebSocket(context.Background(), wsURL(srv), DialOptions{})
	if err != nil {
		t.Fatalf("OpenWebSocket: %v", err)
	}
	bus := telemetry.NewStreamBus("ws-test", conn, time.Second)
	defer bus.Close()

	link := telemetry.NewLink(bus, telemetry.LinkConfig{Timeout: 2 * time.Second, Logger: quietLogger()})
	_, err = link.Poll(context.Background())
	if !errors.Is(err, telemetry.ErrBus) {
		t.Fatalf("Poll error = %v, want ErrBus", err)
	}
}

// ============================================================================
// Auth and dialing
// ============================================================================

func TestHandler_BasicAuth(t *testing.T) {
	served := make(chan struct{}, 1)
	h := &Handler{
		Serve: func(ctx context.Context, conn io.ReadWriter) error {
			served <- struct{}{}
			return nil
		},
		Username: "master",
		Password: "s3cret",
		Logger:   quietLogger(),
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	if _, err := OpenWebSocket(context.Background(), wsURL(srv), DialOptions{Username: "master", Password: "wrong"}); err == nil {
		t.Error("dial with wrong password succeeded")
	}

	conn, err := OpenWebSocket(context.Background(), wsURL(srv), DialOptions{Username: "master", Password: "s3cret"})
	if err != nil {
		t.Fatalf("OpenWebSocket: %v", err)
	}
	defer conn.Close()

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never served the connection")
	}
}

func TestOpenWebSocket_RejectsScheme(t *testing.T) {
	for _, u := range []string{"http://localhost/bus", "tcp://localhost:1", "::bad"} {
		if _, err := OpenWebSocket(context.Background(), u, DialOptions{}); err == nil {
			t.Errorf("OpenWebSocket(%q) succeeded", u)
		}
	}
}

func TestGetPassword_FromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "hunter2")
	pw, err := GetPassword()
	if err != nil || pw != "hunter2" {
		t.Errorf("GetPassword = %q, %v", pw, err)
	}
}
