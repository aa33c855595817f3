// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cborReading is the export form of a Reading: an integer-keyed CBOR map.
//
//	0 => hour, 1 => minute, 2 => day, 3 => month, 4 => year
//	5 => temperature, 6 => humidity, 7 => sound, 8 => tilt
//	9 => sampled-at (unix ms), 10 => stale
type cborReading struct {
	Hour        uint8   `cbor:"0,keyasint"`
	Minute      uint8   `cbor:"1,keyasint"`
	Day         uint8   `cbor:"2,keyasint"`
	Month       uint8   `cbor:"3,keyasint"`
	Year        uint16  `cbor:"4,keyasint"`
	Temperature float32 `cbor:"5,keyasint"`
	Humidity    float32 `cbor:"6,keyasint"`
	Sound       uint8   `cbor:"7,keyasint"`
	Tilt        bool    `cbor:"8,keyasint"`
	At          int64   `cbor:"9,keyasint"`
	Stale       bool    `cbor:"10,keyasint,omitempty"`
}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeCBOR exports a valid reading as a deterministic CBOR map.
func EncodeCBOR(r Reading) ([]byte, error) {
	if !r.Valid {
		return nil, fmt.Errorf("telemetry: no reading to export")
	}
	return cborEnc.Marshal(cborReading{
		Hour:        r.Record.Hour,
		Minute:      r.Record.Minute,
		Day:         r.Record.Day,
		Month:       r.Record.Month,
		Year:        r.Record.Year,
		Temperature: r.Record.Temperature,
		Humidity:    r.Record.Humidity,
		Sound:       r.Record.SoundPercent,
		Tilt:        r.Record.Tilt,
		At:          r.At.UnixMilli(),
		Stale:       r.Stale,
	})
}

// DecodeCBOR parses a reading produced by EncodeCBOR.
func DecodeCBOR(data []byte) (Reading, error) {
	if len(data) == 0 {
		return Reading{}, fmt.Errorf("empty CBOR payload")
	}
	var w cborReading
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Reading{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return Reading{
		Record: Record{
			Hour:         w.Hour,
			Minute:       w.Minute,
			Day:          w.Day,
			Month:        w.Month,
			Year:         w.Year,
			Temperature:  w.Temperature,
			Humidity:     w.Humidity,
			SoundPercent: w.Sound,
			Tilt:         w.Tilt,
		},
		At:    time.UnixMilli(w.At),
		Stale: w.Stale,
		Valid: true,
	}, nil
}
