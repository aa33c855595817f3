// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

// ============================================================
// TelemetryServer Tests
// ============================================================

func TestServer_RespondBeforeCommit(t *testing.T) {
	srv := NewServer(0, quietLogger())
	if srv.Address() != DefaultSlaveAddress {
		t.Errorf("default address = 0x%02X", srv.Address())
	}
	if _, err := srv.Respond(make([]byte, RecordSize)); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, ok := srv.Snapshot(); ok {
		t.Error("Snapshot should report no record")
	}
}

func TestServer_CommitRespond(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	rec := validRecord()
	srv.Commit(rec)

	buf := make([]byte, RecordSize)
	n, err := srv.Respond(buf)
	if err != nil || n != RecordSize {
		t.Fatalf("Respond = %d, %v", n, err)
	}
	got, err := Decode(buf)
	if err != nil || got != rec {
		t.Errorf("got %+v, %v", got, err)
	}
	if snap, ok := srv.Snapshot(); !ok || snap != rec {
		t.Errorf("Snapshot = %+v, %v", snap, ok)
	}
}

// TestServer_NoTornReads hammers Commit and Respond concurrently and checks
// every response decodes to one of the committed records
func TestServer_NoTornReads(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	a := Record{Hour: 1, Minute: 1, Day: 1, Month: 1, Year: 1111, Temperature: 11.5, Humidity: 11, SoundPercent: 11}
	b := Record{Hour: 22, Minute: 22, Day: 22, Month: 12, Year: 2222, Temperature: -22.5, Humidity: 22, SoundPercent: 22, Tilt: true}
	srv.Commit(a)

	const iterations = 5000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if i%2 == 0 {
				srv.Commit(b)
			} else {
				srv.Commit(a)
			}
		}
	}()

	errs := make(chan string, 1)
	go func() {
		defer wg.Done()
		buf := make([]byte, RecordSize)
		for i := 0; i < iterations; i++ {
			if _, err := srv.Respond(buf); err != nil {
				errs <- err.Error()
				return
			}
			got, err := Decode(buf)
			if err != nil {
				errs <- err.Error()
				return
			}
			if got != a && got != b {
				errs <- "torn record"
				return
			}
		}
	}()

	wg.Wait()
	select {
	case msg := <-errs:
		t.Fatal(msg)
	default:
	}
}

// ============================================================
// TelemetrySampler Tests
// ============================================================

type fakeEnv struct {
	env physic.Env
	err error
}

func (f *fakeEnv) Sense(e *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	*e = f.env
	return nil
}

type fakeSound struct {
	pct uint8
	err error
}

func (f *fakeSound) SoundPercent() (uint8, error) { return f.pct, f.err }

type fakeTilt struct {
	tilted bool
	err    error
}

func (f *fakeTilt) Tilted() (bool, error) { return f.tilted, f.err }

func TestSampler_SampleOnce(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	env := &fakeEnv{env: physic.Env{
		Temperature: physic.ZeroCelsius + 21*physic.Celsius,
		Humidity:    45 * physic.PercentRH,
	}}
	sound := &fakeSound{pct: 33}
	tilt := &fakeTilt{tilted: true}
	now := time.Date(2025, time.March, 4, 5, 6, 0, 0, time.UTC)

	s := NewSampler(srv, SamplerConfig{
		Env: env, Sound: sound, Tilt: tilt,
		Now: func() time.Time { return now },
		Log: quietLogger(),
	})

	rec := s.SampleOnce()
	if rec.Hour != 5 || rec.Minute != 6 || rec.Day != 4 || rec.Month != 3 || rec.Year != 2025 {
		t.Errorf("clock fields wrong: %+v", rec)
	}
	if rec.Temperature < 20.99 || rec.Temperature > 21.01 {
		t.Errorf("temperature = %v", rec.Temperature)
	}
	if rec.Humidity < 44.99 || rec.Humidity > 45.01 {
		t.Errorf("humidity = %v", rec.Humidity)
	}
	if rec.SoundPercent != 33 || !rec.Tilt {
		t.Errorf("sound/tilt wrong: %+v", rec)
	}

	committed, ok := srv.Snapshot()
	if !ok || committed != rec {
		t.Errorf("committed %+v, sampled %+v", committed, rec)
	}
}

func TestSampler_FailingSensorKeepsPreviousValues(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	env := &fakeEnv{env: physic.Env{Temperature: physic.ZeroCelsius + 10*physic.Celsius, Humidity: 50 * physic.PercentRH}}
	sound := &fakeSound{pct: 20}
	s := NewSampler(srv, SamplerConfig{Env: env, Sound: sound, Log: quietLogger()})

	first := s.SampleOnce()

	env.err = errors.New("i2c nack")
	sound.err = errors.New("adc busy")
	second := s.SampleOnce()

	if second.Temperature != first.Temperature || second.Humidity != first.Humidity {
		t.Errorf("environment values not retained: %+v vs %+v", second, first)
	}
	if second.SoundPercent != first.SoundPercent {
		t.Errorf("sound value not retained")
	}
	if _, ok := srv.Snapshot(); !ok {
		t.Error("record should still be committed")
	}
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	srv := NewServer(0x08, quietLogger())
	s := NewSampler(srv, SamplerConfig{Log: quietLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if _, ok := srv.Snapshot(); !ok {
		t.Error("Run did not sample")
	}
}
