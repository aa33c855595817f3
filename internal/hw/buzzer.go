// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Tone is one on/off step of a feedback pattern.
type Tone struct {
	On  time.Duration
	Off time.Duration
}

// Feedback patterns
var (
	PatternGranted = []Tone{{On: 150 * time.Millisecond}}
	PatternDenied  = []Tone{
		{On: 100 * time.Millisecond, Off: 80 * time.Millisecond},
		{On: 100 * time.Millisecond, Off: 80 * time.Millisecond},
		{On: 100 * time.Millisecond},
	}
)

// Pulser plays tone patterns on an active-high output (buzzer or LED).
type Pulser struct {
	pin   gpio.PinOut
	sleep func(time.Duration)
	mu    sync.Mutex
}

// NewPulser drives pin.
func NewPulser(pin gpio.PinOut) *Pulser {
	return &Pulser{pin: pin, sleep: time.Sleep}
}

// Play runs pattern to completion. Concurrent calls are serialized.
func (p *Pulser) Play(pattern []Tone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range pattern {
		if err := p.pin.Out(gpio.High); err != nil {
			return err
		}
		p.sleep(t.On)
		if err := p.pin.Out(gpio.Low); err != nil {
			return err
		}
		p.sleep(t.Off)
	}
	return nil
}

// Set holds the output at a level.
func (p *Pulser) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pin.Out(gpio.Level(on))
}
