// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package proximity turns a distance sensor into presence edges.
package proximity

import (
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Defaults from the stock firmware
const (
	DefaultThreshold = 300 * physic.MilliMetre
	DefaultInterval  = 300 * time.Millisecond
)

// DistanceSensor measures the distance to the nearest object.
type DistanceSensor interface {
	Distance() (physic.Distance, error)
}

// EdgeKind classifies a presence change.
type EdgeKind int

const (
	EdgeNone EdgeKind = iota
	EdgeArrived
	EdgeLeft
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeArrived:
		return "arrived"
	case EdgeLeft:
		return "left"
	default:
		return "none"
	}
}

// Edge is the result of one Poll.
type Edge struct {
	Kind EdgeKind
	// Interacted is set on EdgeLeft when a key was pressed while present.
	Interacted bool
}

// State is the monitor's presence bookkeeping.
type State struct {
	LastSample      time.Time
	LastUserSeen    time.Time
	Distance        physic.Distance
	Present         bool
	PreviousPresent bool
	HasInteracted   bool // since the current presence window opened
}

// Config configures a Monitor. Zero values select the defaults.
type Config struct {
	Threshold physic.Distance
	Interval  time.Duration
	Logger    *slog.Logger
}

// Monitor samples a DistanceSensor at a fixed interval and reports presence
// edges. It only supplies the signal; it never resets the access session.
type Monitor struct {
	sensor    DistanceSensor
	threshold physic.Distance
	interval  time.Duration
	log       *slog.Logger
	state     State
}

// NewMonitor creates a monitor reading from sensor.
func NewMonitor(sensor DistanceSensor, cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		sensor:    sensor,
		threshold: cfg.Threshold,
		interval:  cfg.Interval,
		log:       cfg.Logger.With("component", "proximity"),
	}
}

// Poll samples the sensor if the check interval has elapsed since the last
// sample. Arrival is reported exactly once per false to true transition.
func (m *Monitor) Poll(now time.Time) Edge {
	if !m.state.LastSample.IsZero() && now.Sub(m.state.LastSample) < m.interval {
		return Edge{}
	}
	m.state.LastSample = now

	d, err := m.sensor.Distance()
	if err != nil {
		m.log.Debug("distance read failed", "error", err)
		return Edge{}
	}

	m.state.Distance = d
	m.state.PreviousPresent = m.state.Present
	m.state.Present = d < m.threshold
	if m.state.Present {
		m.state.LastUserSeen = now
	}

	switch {
	case m.state.Present && !m.state.PreviousPresent:
		m.state.HasInteracted = false
		m.log.Debug("presence", "edge", EdgeArrived, "distance", d)
		return Edge{Kind: EdgeArrived}
	case !m.state.Present && m.state.PreviousPresent:
		interacted := m.state.HasInteracted
		m.state.HasInteracted = false
		m.log.Debug("presence", "edge", EdgeLeft, "interacted", interacted)
		return Edge{Kind: EdgeLeft, Interacted: interacted}
	}
	return Edge{}
}

// MarkInteraction records a key press in the current presence window.
func (m *Monitor) MarkInteraction() {
	if m.state.Present {
		m.state.HasInteracted = true
	}
}

// Present reports the last sampled presence.
func (m *Monitor) Present() bool {
	return m.state.Present
}

// State returns a copy of the presence bookkeeping.
func (m *Monitor) State() State {
	return m.state
}
