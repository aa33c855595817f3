// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Decode errors
var (
	ErrRecordLength  = errors.New("telemetry: wrong record length")
	ErrSchemaVersion = errors.New("telemetry: schema version mismatch")
	ErrInvalidBool   = errors.New("telemetry: invalid boolean byte")
)

// Record is one sensor snapshot as sampled by the slave.
type Record struct {
	Hour   uint8
	Minute uint8
	Day    uint8
	Month  uint8
	Year   uint16

	Temperature  float32 // degrees Celsius
	Humidity     float32 // percent relative humidity
	SoundPercent uint8
	Tilt         bool
}

// RecordFromTime fills the clock fields of a record from t.
func RecordFromTime(t time.Time) Record {
	return Record{
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Day:    uint8(t.Day()),
		Month:  uint8(t.Month()),
		Year:   uint16(t.Year()),
	}
}

// Encode serializes r into its fixed wire layout.
func Encode(r Record) [RecordSize]byte {
	var b [RecordSize]byte
	encodeInto(b[:], r)
	return b
}

func encodeInto(b []byte, r Record) {
	b[offHour] = r.Hour
	b[offMinute] = r.Minute
	b[offDay] = r.Day
	b[offMonth] = r.Month
	binary.LittleEndian.PutUint16(b[offYear:], r.Year)
	binary.LittleEndian.PutUint32(b[offTemperature:], math.Float32bits(r.Temperature))
	binary.LittleEndian.PutUint32(b[offHumidity:], math.Float32bits(r.Humidity))
	b[offSound] = r.SoundPercent
	if r.Tilt {
		b[offTilt] = 1
	} else {
		b[offTilt] = 0
	}
	b[offVersion] = SchemaVersion
}

// Decode parses a wire-format record. It is the exact inverse of Encode.
func Decode(b []byte) (Record, error) {
	if len(b) != RecordSize {
		return Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrRecordLength, len(b), RecordSize)
	}
	if b[offVersion] != SchemaVersion {
		return Record{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrSchemaVersion, b[offVersion], SchemaVersion)
	}

	var tilt bool
	switch b[offTilt] {
	case 0:
	case 1:
		tilt = true
	default:
		return Record{}, fmt.Errorf("%w: tilt=0x%02X", ErrInvalidBool, b[offTilt])
	}

	return Record{
		Hour:         b[offHour],
		Minute:       b[offMinute],
		Day:          b[offDay],
		Month:        b[offMonth],
		Year:         binary.LittleEndian.Uint16(b[offYear:]),
		Temperature:  math.Float32frombits(binary.LittleEndian.Uint32(b[offTemperature:])),
		Humidity:     math.Float32frombits(binary.LittleEndian.Uint32(b[offHumidity:])),
		SoundPercent: b[offSound],
		Tilt:         tilt,
	}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record) MarshalBinary() ([]byte, error) {
	b := Encode(r)
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error {
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
