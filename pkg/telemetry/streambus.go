// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrBusClosed is returned by Tx after the stream has been closed or failed.
var ErrBusClosed = errors.New("telemetry: stream bus closed")

type decoded struct {
	frame *Frame
	err   error
}

// StreamBus carries bus read transactions over a byte stream (UART or
// WebSocket) so a Link can poll a slave that is not on a real I2C bus.
//
// A read of len(r) bytes from addr sends a MsgReadRequest frame and waits for
// the matching MsgRecord frame. Replies decoded before the request was written
// belong to an earlier, timed out transaction and are skipped. Write
// transactions are not supported.
type StreamBus struct {
	name    string
	rw      io.ReadWriteCloser
	timeout time.Duration

	txMu    sync.Mutex
	frames  chan decoded
	done    chan struct{}
	readErr error
	once    sync.Once
}

var _ i2c.BusCloser = (*StreamBus)(nil)

// NewStreamBus starts decoding frames from rw. timeout bounds each Tx; the
// Link applies its own bound on top.
func NewStreamBus(name string, rw io.ReadWriteCloser, timeout time.Duration) *StreamBus {
	if timeout <= 0 {
		timeout = DefaultBusTimeout
	}
	b := &StreamBus{
		name:    name,
		rw:      rw,
		timeout: timeout,
		frames:  make(chan decoded, 16),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *StreamBus) readLoop() {
	defer close(b.done)

	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := b.rw.Read(buf)
		for i := 0; i < n; i++ {
			frame, derr := decoder.DecodeByte(buf[i])
			if derr == nil && frame == nil {
				continue
			}
			select {
			case b.frames <- decoded{frame: frame, err: derr}:
			default:
				// Nobody is waiting; drop rather than block the reader.
			}
		}
		if err != nil {
			b.readErr = err
			return
		}
	}
}

// String implements i2c.Bus.
func (b *StreamBus) String() string {
	return b.name
}

// SetSpeed implements i2c.Bus. The stream has no bus clock.
func (b *StreamBus) SetSpeed(f physic.Frequency) error {
	return nil
}

// Tx implements i2c.Bus.
func (b *StreamBus) Tx(addr uint16, w, r []byte) error {
	if len(w) != 0 {
		return fmt.Errorf("%s: write transactions not supported", b.name)
	}
	if len(r) == 0 {
		return nil
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	b.drain()

	sent := time.Now()
	if _, err := b.rw.Write(MustEncodeFrame(NewReadRequest(addr))); err != nil {
		return fmt.Errorf("%s: write: %w", b.name, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	var lastErr error
	for {
		select {
		case d := <-b.frames:
			if d.err != nil {
				lastErr = d.err
				continue
			}
			f := d.frame
			if uint16(f.Address()) != addr || f.Timestamp().Before(sent) {
				continue
			}
			switch f.Type() {
			case MsgRecord:
				if len(f.Payload()) != len(r) {
					return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordLength, len(f.Payload()), len(r))
				}
				copy(r, f.Payload())
				return nil
			case MsgError:
				code := uint8(0)
				if len(f.Payload()) > 0 {
					code = f.Payload()[0]
				}
				return fmt.Errorf("slave error %s (0x%02X)", formatErrorCode(code), code)
			}
		case <-b.done:
			if b.readErr != nil {
				return fmt.Errorf("%w: %w", ErrBusClosed, b.readErr)
			}
			return ErrBusClosed
		case <-timer.C:
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("%s: timeout after %s", b.name, b.timeout)
		}
	}
}

// drain discards frames left over from an earlier, timed out transaction.
func (b *StreamBus) drain() {
	for {
		select {
		case <-b.frames:
		default:
			return
		}
	}
}

// Close closes the underlying stream.
func (b *StreamBus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.rw.Close()
	})
	return err
}
