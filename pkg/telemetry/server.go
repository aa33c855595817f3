// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// ErrNotReady is returned by Respond before the first Commit.
var ErrNotReady = errors.New("telemetry: no record committed")

// Server holds the committed record on the slave side.
//
// Commit is the only writer. Respond and ServeConn only copy the committed
// bytes, so they may run from a bus callback that interrupts sampling.
type Server struct {
	addr      uint16
	committed atomic.Pointer[[RecordSize]byte]
	log       *slog.Logger
}

// NewServer creates a server answering for addr.
func NewServer(addr uint16, logger *slog.Logger) *Server {
	if addr == 0 {
		addr = DefaultSlaveAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr: addr,
		log:  logger.With("component", "telemetry-server"),
	}
}

// Address returns the bus address the server answers for.
func (s *Server) Address() uint16 {
	return s.addr
}

// Commit encodes r into a fresh buffer and publishes it atomically.
func (s *Server) Commit(r Record) {
	b := Encode(r)
	s.committed.Store(&b)
}

// Respond copies the committed record into dst and returns the byte count.
func (s *Server) Respond(dst []byte) (int, error) {
	p := s.committed.Load()
	if p == nil {
		return 0, ErrNotReady
	}
	return copy(dst, p[:]), nil
}

// Snapshot decodes the committed record.
func (s *Server) Snapshot() (Record, bool) {
	p := s.committed.Load()
	if p == nil {
		return Record{}, false
	}
	r, err := Decode(p[:])
	if err != nil {
		return Record{}, false
	}
	return r, true
}

// ServeConn answers read-request frames arriving on conn until ctx is
// cancelled or the connection fails. Requests for other addresses are ignored.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriter) error {
	decoder := NewDecoder()
	buf := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				s.log.Debug("frame decode error", "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := s.handleFrame(conn, frame); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleFrame(w io.Writer, frame *Frame) error {
	if uint16(frame.Address()) != s.addr {
		return nil
	}

	var reply *Frame
	switch frame.Type() {
	case MsgReadRequest:
		var rec [RecordSize]byte
		if _, err := s.Respond(rec[:]); err != nil {
			reply = NewErrorFrame(s.addr, ErrCodeNotReady)
		} else {
			reply = NewRecordFrame(s.addr, rec[:])
		}
	default:
		s.log.Debug("unexpected frame", "type", FormatMessageType(frame.Type()))
		reply = NewErrorFrame(s.addr, ErrCodeBadFrame)
	}

	if _, err := w.Write(MustEncodeFrame(reply)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
