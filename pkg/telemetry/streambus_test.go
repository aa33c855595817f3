// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Stream Bus Tests
// ============================================================

// pipeSlave starts a server on one end of an in-memory pipe and returns a
// stream bus on the other
func pipeSlave(t *testing.T, srv *Server) *StreamBus {
	t.Helper()
	master, slave := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.ServeConn(ctx, slave) }()

	bus := NewStreamBus("pipe", master, 200*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		_ = slave.Close()
	})
	return bus
}

func TestStreamBus_LinkOverStream(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	rec := validRecord()
	srv.Commit(rec)

	bus := pipeSlave(t, srv)
	link := NewLink(bus, LinkConfig{Timeout: time.Second, Logger: quietLogger()})

	got, err := link.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.Record != rec {
		t.Errorf("got %+v, want %+v", got.Record, rec)
	}

	rec.Minute = 45
	srv.Commit(rec)
	got, err = link.Poll(context.Background())
	if err != nil || got.Record.Minute != 45 {
		t.Errorf("second poll: %+v, %v", got.Record, err)
	}
}

func TestStreamBus_NotReady(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	bus := pipeSlave(t, srv)

	err := bus.Tx(0x08, nil, make([]byte, RecordSize))
	if err == nil {
		t.Fatal("expected slave error before first commit")
	}
}

func TestStreamBus_WrongAddressTimesOut(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	srv.Commit(validRecord())
	bus := pipeSlave(t, srv)

	err := bus.Tx(0x09, nil, make([]byte, RecordSize))
	if err == nil {
		t.Fatal("expected timeout for unanswered address")
	}
}

func TestStreamBus_WrongLength(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	srv.Commit(validRecord())
	bus := pipeSlave(t, srv)

	err := bus.Tx(0x08, nil, make([]byte, RecordSize-1))
	if !errors.Is(err, ErrRecordLength) {
		t.Fatalf("expected ErrRecordLength, got %v", err)
	}
}

func TestStreamBus_RejectsWrites(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	bus := pipeSlave(t, srv)

	if err := bus.Tx(0x08, []byte{0x01}, nil); err == nil {
		t.Error("expected error for write transaction")
	}
}

func TestStreamBus_ClosedStream(t *testing.T) {
	master, slave := net.Pipe()
	bus := NewStreamBus("pipe", master, time.Second)
	_ = slave.Close()

	err := bus.Tx(0x08, nil, make([]byte, RecordSize))
	if err == nil {
		t.Fatal("expected error on closed stream")
	}
	_ = bus.Close()
}

// scriptedStream accepts writes and never yields bytes until closed
type scriptedStream struct {
	onWrite func(n int)
	writes  int
	closed  chan struct{}
	once    sync.Once
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{closed: make(chan struct{})}
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *scriptedStream) Write(p []byte) (int, error) {
	s.writes++
	if s.onWrite != nil {
		s.onWrite(s.writes)
	}
	return len(p), nil
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestStreamBus_LateReplyIgnored(t *testing.T) {
	stream := newScriptedStream()
	bus := NewStreamBus("scripted", stream, 30*time.Millisecond)
	defer bus.Close()

	staleRaw := Encode(Record{Year: 2001})
	stale := NewRecordFrame(0x08, staleRaw[:])
	stale.timestamp = time.Now().Add(-time.Second)

	rec := validRecord()
	stream.onWrite = func(n int) {
		if n != 2 {
			return
		}
		// The reply to the first request lands after drain, then the real one
		bus.frames <- decoded{frame: stale}
		freshRaw := Encode(rec)
		bus.frames <- decoded{frame: NewRecordFrame(0x08, freshRaw[:])}
	}

	if err := bus.Tx(0x08, nil, make([]byte, RecordSize)); err == nil {
		t.Fatal("expected timeout on unanswered request")
	}

	r := make([]byte, RecordSize)
	if err := bus.Tx(0x08, nil, r); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	got, err := Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Errorf("accepted late reply: got %+v, want %+v", got, rec)
	}
}
