// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestCBOR_RoundTrip(t *testing.T) {
	in := Reading{
		Record: validRecord(),
		At:     time.UnixMilli(1735689600123),
		Stale:  true,
		Valid:  true,
	}
	data, err := EncodeCBOR(in)
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}

	out, err := DecodeCBOR(data)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}
	if out.Record != in.Record || !out.At.Equal(in.At) || out.Stale != in.Stale || !out.Valid {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestCBOR_IntegerKeys(t *testing.T) {
	data, err := EncodeCBOR(Reading{Record: validRecord(), Valid: true})
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}

	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		t.Fatalf("not an integer-keyed map: %v", err)
	}
	if m[0] != uint64(12) || m[4] != uint64(2025) {
		t.Errorf("unexpected map contents: %v", m)
	}
	if _, ok := m[10]; ok {
		t.Error("stale key should be omitted for fresh readings")
	}
}

func TestCBOR_Errors(t *testing.T) {
	if _, err := EncodeCBOR(Reading{}); err == nil {
		t.Error("expected error encoding invalid reading")
	}
	if _, err := DecodeCBOR(nil); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := DecodeCBOR([]byte{0xFF}); err == nil {
		t.Error("expected error for malformed CBOR")
	}
}
