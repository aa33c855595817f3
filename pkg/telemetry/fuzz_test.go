// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomRecord builds a record with arbitrary field values (NaN excluded so
// records stay comparable with ==)
func randomRecord(rng *rand.Rand) Record {
	randFloat := func() float32 {
		for {
			f := math.Float32frombits(rng.Uint32())
			if !math.IsNaN(float64(f)) {
				return f
			}
		}
	}
	return Record{
		Hour:         uint8(rng.Intn(256)),
		Minute:       uint8(rng.Intn(256)),
		Day:          uint8(rng.Intn(256)),
		Month:        uint8(rng.Intn(256)),
		Year:         uint16(rng.Intn(65536)),
		Temperature:  randFloat(),
		Humidity:     randFloat(),
		SoundPercent: uint8(rng.Intn(256)),
		Tilt:         rng.Intn(2) == 1,
	}
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

func TestFuzzCodec_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		rec := randomRecord(rng)
		b := Encode(rec)
		got, err := Decode(b[:])
		if err != nil {
			t.Fatalf("Round %d: decode failed: %v", i, err)
		}
		if got != rec {
			t.Fatalf("Round %d: mismatch\n got  %+v\n want %+v", i, got, rec)
		}
	}
}

func TestFuzzCodec_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		b := make([]byte, rng.Intn(RecordSize*2))
		rng.Read(b)
		// Must never panic
		_, _ = Decode(b)
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		data := make([]byte, rng.Intn(200))
		rng.Read(data)
		for _, b := range data {
			_, _ = d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_FramesInNoise embeds valid frames in random noise and
// checks that every frame following a clean separator is recovered
func TestFuzzDecoder_FramesInNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		rec := randomRecord(rng)
		b := Encode(rec)
		frame := MustEncodeFrame(NewRecordFrame(0x08, b[:]))

		noise := make([]byte, rng.Intn(40))
		rng.Read(noise)

		// An END byte after the noise terminates any partial frame it started
		stream := append(noise, EndByte)
		stream = append(stream, frame...)

		d := NewDecoder()
		var got *Frame
		for _, c := range stream {
			f, _ := d.DecodeByte(c)
			if f != nil {
				got = f
			}
		}
		if got == nil {
			t.Fatalf("Round %d: frame not recovered after % X", i, noise)
		}
		r, err := got.Record()
		if err != nil {
			t.Fatalf("Round %d: %v", i, err)
		}
		if r != rec {
			t.Fatalf("Round %d: mismatch", i)
		}
	}
}
