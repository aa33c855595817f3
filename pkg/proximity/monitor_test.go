// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package proximity

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

type fakeSensor struct {
	d   physic.Distance
	err error
	n   int
}

func (f *fakeSensor) Distance() (physic.Distance, error) {
	f.n++
	return f.d, f.err
}

func newTestMonitor(s DistanceSensor) *Monitor {
	return NewMonitor(s, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

var (
	near = 100 * physic.MilliMetre
	far  = 2 * physic.Metre
)

// ============================================================
// Edge Detection Tests
// ============================================================

func TestMonitor_SingleArrivalPerPresence(t *testing.T) {
	s := &fakeSensor{d: far}
	m := newTestMonitor(s)
	now := time.Unix(1000, 0)

	if e := m.Poll(now); e.Kind != EdgeNone {
		t.Fatalf("unexpected edge %s while absent", e.Kind)
	}

	s.d = near
	arrivals := 0
	for i := 1; i <= 20; i++ {
		if m.Poll(now.Add(time.Duration(i) * DefaultInterval)).Kind == EdgeArrived {
			arrivals++
		}
	}
	if arrivals != 1 {
		t.Errorf("expected exactly 1 arrival, got %d", arrivals)
	}
	if !m.Present() {
		t.Error("monitor should report presence")
	}
}

func TestMonitor_Threshold(t *testing.T) {
	tests := []struct {
		d       physic.Distance
		present bool
	}{
		{DefaultThreshold - physic.MilliMetre, true},
		{DefaultThreshold, false},
		{DefaultThreshold + physic.MilliMetre, false},
	}
	for _, tt := range tests {
		m := newTestMonitor(&fakeSensor{d: tt.d})
		m.Poll(time.Unix(0, 0))
		if m.Present() != tt.present {
			t.Errorf("distance %s: present=%v, want %v", tt.d, m.Present(), tt.present)
		}
	}
}

func TestMonitor_RespectsInterval(t *testing.T) {
	s := &fakeSensor{d: far}
	m := newTestMonitor(s)
	now := time.Unix(0, 0)

	m.Poll(now)
	m.Poll(now.Add(DefaultInterval / 2))
	if s.n != 1 {
		t.Errorf("sensor sampled %d times before interval elapsed", s.n)
	}
	m.Poll(now.Add(DefaultInterval))
	if s.n != 2 {
		t.Errorf("sensor sampled %d times, want 2", s.n)
	}
}

func TestMonitor_LeftReportsInteraction(t *testing.T) {
	s := &fakeSensor{d: near}
	m := newTestMonitor(s)
	now := time.Unix(0, 0)

	m.Poll(now)
	m.MarkInteraction()

	s.d = far
	e := m.Poll(now.Add(DefaultInterval))
	if e.Kind != EdgeLeft || !e.Interacted {
		t.Errorf("expected left with interaction, got %+v", e)
	}

	// Next window starts clean
	s.d = near
	m.Poll(now.Add(2 * DefaultInterval))
	s.d = far
	e = m.Poll(now.Add(3 * DefaultInterval))
	if e.Kind != EdgeLeft || e.Interacted {
		t.Errorf("expected left without interaction, got %+v", e)
	}
}

func TestMonitor_InteractionWhileAbsentIgnored(t *testing.T) {
	m := newTestMonitor(&fakeSensor{d: far})
	m.Poll(time.Unix(0, 0))
	m.MarkInteraction()
	if m.State().HasInteracted {
		t.Error("interaction recorded without presence")
	}
}

func TestMonitor_SensorErrorKeepsState(t *testing.T) {
	s := &fakeSensor{d: near}
	m := newTestMonitor(s)
	now := time.Unix(0, 0)
	m.Poll(now)

	s.err = errors.New("echo timeout")
	s.d = far
	if e := m.Poll(now.Add(DefaultInterval)); e.Kind != EdgeNone {
		t.Errorf("sensor error produced edge %s", e.Kind)
	}
	if !m.Present() {
		t.Error("presence lost on sensor error")
	}
	if m.State().LastUserSeen != now {
		t.Error("last-seen time changed on sensor error")
	}
}
