// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"log/slog"

	"github.com/Thermoquad/coffer/pkg/access"
)

// BoltConfig wires the physical actuator.
type BoltConfig struct {
	Servo       *Servo
	Buzzer      *Pulser // optional
	LED         *Pulser // optional, lit while unlocked
	LockAngle   int
	UnlockAngle int
	Logger      *slog.Logger

	// Sync plays feedback patterns on the caller's goroutine.
	Sync bool
}

// Bolt implements access.Actuator on a servo with buzzer and LED feedback.
// Hardware errors are logged; the controller treats actuation as
// fire-and-forget.
type Bolt struct {
	cfg BoltConfig
	log *slog.Logger
}

var _ access.Actuator = (*Bolt)(nil)

// NewBolt creates the actuator.
func NewBolt(cfg BoltConfig) *Bolt {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bolt{cfg: cfg, log: log.With("component", "bolt")}
}

func (b *Bolt) Lock() {
	if err := b.cfg.Servo.SetAngle(b.cfg.LockAngle); err != nil {
		b.log.Error("servo lock failed", "error", err)
	}
	b.led(false)
}

func (b *Bolt) Unlock() {
	if err := b.cfg.Servo.SetAngle(b.cfg.UnlockAngle); err != nil {
		b.log.Error("servo unlock failed", "error", err)
	}
	b.led(true)
}

func (b *Bolt) SignalGranted() {
	b.play(PatternGranted)
}

func (b *Bolt) SignalDenied() {
	b.play(PatternDenied)
}

func (b *Bolt) led(on bool) {
	if b.cfg.LED == nil {
		return
	}
	if err := b.cfg.LED.Set(on); err != nil {
		b.log.Warn("led failed", "error", err)
	}
}

func (b *Bolt) play(pattern []Tone) {
	if b.cfg.Buzzer == nil {
		return
	}
	run := func() {
		if err := b.cfg.Buzzer.Play(pattern); err != nil {
			b.log.Warn("buzzer failed", "error", err)
		}
	}
	if b.cfg.Sync {
		run()
		return
	}
	go run()
}
