// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is wrapped by the decoder when a frame fails its checksum.
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder implements the frame decoder state machine for stream transports.
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	frame       *Frame
	rawBuffer   []byte // raw bytes of the current or last frame, at most maxRawBytes
	rawDone     bool   // rawBuffer holds a finished frame and restarts on the next byte
}

// maxRawBytes bounds rawBuffer: a fully stuffed frame plus START and END.
const maxRawBytes = MaxFrameSize*2 + 2

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, maxRawBytes),
	}
}

// Reset resets the decoder state to idle and discards raw bytes
func (d *Decoder) Reset() {
	d.resetState()
	d.rawBuffer = d.rawBuffer[:0]
	d.rawDone = false
}

func (d *Decoder) resetState() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.escapeNext = false
	d.frame = nil
}

// finish ends the current frame but keeps its raw bytes readable until the
// next DecodeByte call.
func (d *Decoder) finish() {
	d.resetState()
	d.rawDone = true
}

// RawBytes returns the wire bytes of the frame that just completed or failed,
// or the bytes received since then. Line noise between frames only keeps the
// most recent maxRawBytes bytes. The slice is reused by the next DecodeByte.
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

func (d *Decoder) appendRaw(b byte) {
	if d.rawDone {
		d.rawBuffer = d.rawBuffer[:0]
		d.rawDone = false
	}
	if len(d.rawBuffer) >= maxRawBytes {
		n := copy(d.rawBuffer, d.rawBuffer[len(d.rawBuffer)-maxRawBytes+1:])
		d.rawBuffer = d.rawBuffer[:n]
	}
	d.rawBuffer = append(d.rawBuffer, b)
}

// DecodeByte feeds one byte through the decoder.
// Returns a completed frame, or nil while the frame is incomplete.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.appendRaw(b)

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}

	escaped := d.escapeNext
	if escaped {
		b ^= EscXor
		d.escapeNext = false
	}

	// Unescaped framing bytes always win over the current state
	if !escaped && b == StartByte {
		d.resetState()
		d.rawBuffer = append(d.rawBuffer[:0], StartByte)
		d.state = stateLength
		return nil, nil
	}

	if !escaped && b == EndByte {
		if d.state == stateEnd {
			frame := d.frame
			calculated := CalculateCRC(d.buffer[:d.bufferIndex])
			if frame.crc != calculated {
				d.finish()
				return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, frame.crc)
			}
			frame.timestamp = time.Now()
			d.finish()
			return frame, nil
		}
		state := d.state
		d.finish()
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}

	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.finish()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.frame = &Frame{payload: make([]byte, 0, b)}
		d.push(b)
		d.state = stateAddress
		return nil, nil

	case stateAddress:
		d.frame.address = b
		d.push(b)
		d.state = stateType
		return nil, nil

	case stateType:
		d.frame.msgType = b
		d.push(b)
		if cap(d.frame.payload) == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		if d.bufferIndex >= MaxFrameSize {
			d.finish()
			return nil, fmt.Errorf("buffer overflow: frame exceeds max size")
		}
		d.frame.payload = append(d.frame.payload, b)
		d.push(b)
		if len(d.frame.payload) >= cap(d.frame.payload) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.frame.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.frame.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	case stateEnd:
		d.finish()
		return nil, fmt.Errorf("missing END byte")

	default:
		state := d.state
		d.finish()
		return nil, fmt.Errorf("invalid state: %d", state)
	}
}

func (d *Decoder) push(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}
