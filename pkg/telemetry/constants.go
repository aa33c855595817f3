// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry implements the sensor record exchanged between the coffer
// master controller and its telemetry slave.
//
// The record has a single wire definition in this package and both ends link
// against it. On an I2C bus the master reads RecordSize bytes from the slave
// address; on stream transports (UART, WebSocket) the same bytes travel inside
// a framed packet with byte stuffing and a CRC-16-CCITT trailer.
package telemetry

import "time"

// Record layout. Offsets are fixed and independent of either device's
// native alignment.
const (
	offHour        = 0
	offMinute      = 1
	offDay         = 2
	offMonth       = 3
	offYear        = 4 // uint16, little-endian
	offTemperature = 6 // float32, little-endian IEEE-754
	offHumidity    = 10
	offSound       = 14
	offTilt        = 15 // 0 or 1
	offVersion     = 16

	// RecordSize is the exact length of an encoded record.
	RecordSize = 17
)

// SchemaVersion is written at offVersion. Bump it whenever the layout changes.
const SchemaVersion = 0x01

// DefaultSlaveAddress is the 7-bit bus address of the telemetry slave.
const DefaultSlaveAddress uint16 = 0x08

// Default timings
const (
	DefaultBusTimeout     = 100 * time.Millisecond
	DefaultPollInterval   = 1 * time.Second
	DefaultSampleInterval = 1 * time.Second
)

// Protocol framing bytes (stream transports only)
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 32
	MaxFrameSize   = 3 + MaxPayloadSize + 2 // len + addr + type + payload + crc
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Frame types
const (
	MsgReadRequest = 0x01 // master -> slave, empty payload
	MsgRecord      = 0x02 // slave -> master, RecordSize payload
	MsgError       = 0xE0 // slave -> master, one byte error code
)

// Error codes carried by MsgError
const (
	ErrCodeNotReady = 0x01 // no record committed yet
	ErrCodeBadFrame = 0x02
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	stateType
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
