// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides stand-in sensors so master and slave run without
// hardware.
package sim

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"
)

// Simulated distances either side of the default threshold
const (
	NearDistance = 150 * physic.MilliMetre
	FarDistance  = 2 * physic.Metre
)

// Presence is a distance sensor toggled by hand.
type Presence struct {
	present atomic.Bool
}

// Set places the simulated user in front of or away from the safe.
func (p *Presence) Set(present bool) {
	p.present.Store(present)
}

// Toggle flips presence and returns the new value.
func (p *Presence) Toggle() bool {
	for {
		old := p.present.Load()
		if p.present.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (p *Presence) Present() bool {
	return p.present.Load()
}

func (p *Presence) Distance() (physic.Distance, error) {
	if p.present.Load() {
		return NearDistance, nil
	}
	return FarDistance, nil
}

// Environment is a random walk around room conditions. It satisfies
// telemetry.EnvSensor, SoundSensor and TiltSensor.
type Environment struct {
	mu       sync.Mutex
	rng      *rand.Rand
	tempC    float64
	humidity float64
	sound    float64
	tilted   atomic.Bool
}

// NewEnvironment starts at 21°C, 45%RH and a quiet room.
func NewEnvironment(seed int64) *Environment {
	return &Environment{
		rng:      rand.New(rand.NewSource(seed)),
		tempC:    21,
		humidity: 45,
		sound:    5,
	}
}

func (e *Environment) Sense(env *physic.Env) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tempC = clamp(e.tempC+e.rng.NormFloat64()*0.05, 10, 35)
	e.humidity = clamp(e.humidity+e.rng.NormFloat64()*0.2, 20, 80)

	env.Temperature = physic.ZeroCelsius + physic.Temperature(e.tempC*float64(physic.Celsius))
	env.Humidity = physic.RelativeHumidity(e.humidity * float64(physic.PercentRH))
	env.Pressure = 101325 * physic.Pascal
	return nil
}

func (e *Environment) SoundPercent() (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sound = clamp(e.sound+e.rng.NormFloat64()*2, 0, 100)
	return uint8(e.sound), nil
}

// SetTilt forces the tilt reading.
func (e *Environment) SetTilt(v bool) {
	e.tilted.Store(v)
}

func (e *Environment) Tilted() (bool, error) {
	return e.tilted.Load(), nil
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
