// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"time"
)

// Frame is one decoded packet from a stream transport.
type Frame struct {
	address   uint8
	msgType   uint8
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame ready for encoding.
func NewFrame(address uint8, msgType uint8, payload []byte) *Frame {
	return &Frame{
		address:   address,
		msgType:   msgType,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// NewReadRequest creates the frame the master sends to trigger a record read.
func NewReadRequest(address uint16) *Frame {
	return NewFrame(uint8(address), MsgReadRequest, nil)
}

// NewRecordFrame wraps encoded record bytes for the given slave address.
func NewRecordFrame(address uint16, record []byte) *Frame {
	return NewFrame(uint8(address), MsgRecord, record)
}

// NewErrorFrame reports a slave-side problem to the master.
func NewErrorFrame(address uint16, code uint8) *Frame {
	return NewFrame(uint8(address), MsgError, []byte{code})
}

// Address returns the 7-bit bus address the frame is for (or from)
func (f *Frame) Address() uint8 {
	return f.address
}

// Type returns the frame type
func (f *Frame) Type() uint8 {
	return f.msgType
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// CRC returns the CRC received on the wire (zero for locally built frames)
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Record decodes the payload of a MsgRecord frame.
func (f *Frame) Record() (Record, error) {
	if f.msgType != MsgRecord {
		return Record{}, fmt.Errorf("frame type 0x%02X does not carry a record", f.msgType)
	}
	return Decode(f.payload)
}

// EncodeFrame creates a complete wire-formatted frame.
// Returns the bytes ready for transmission, including framing and byte stuffing.
func EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(f.payload), MaxPayloadSize)
	}

	// length + address + type + payload is what gets CRC'd and stuffed
	data := make([]byte, 0, 3+len(f.payload)+2)
	data = append(data, uint8(len(f.payload)), f.address, f.msgType)
	data = append(data, f.payload...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	out := make([]byte, 0, len(stuffed)+2)
	out = append(out, StartByte)
	out = append(out, stuffed...)
	out = append(out, EndByte)
	return out, nil
}

// MustEncodeFrame is EncodeFrame for frames known to be valid.
// Panics on encoding error.
func MustEncodeFrame(f *Frame) []byte {
	data, err := EncodeFrame(f)
	if err != nil {
		panic(fmt.Sprintf("telemetry: encode error: %v", err))
	}
	return data
}

// stuffBytes replaces START, END and ESC with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// unstuffBytes removes byte stuffing from escaped data.
func unstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return result, nil
}

// CalculateCRC computes the CRC-16-CCITT checksum used by frames.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
