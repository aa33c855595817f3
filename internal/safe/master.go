// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package safe holds the per-device context objects that own each control
// loop: Master (keypad, presence, access controller, telemetry link and
// display) and Slave (sampler plus the record server).
package safe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/lcd"
	"github.com/Thermoquad/coffer/pkg/proximity"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// DefaultTickInterval is the master loop period.
const DefaultTickInterval = 50 * time.Millisecond

// MasterConfig wires a Master. Only Controller is required.
type MasterConfig struct {
	Controller *access.Controller
	Keymap     access.Keymap
	Presence   *proximity.Monitor
	Link       *telemetry.Link
	Display    lcd.Display
	Clock      access.Clock
	Logger     *slog.Logger

	TickInterval time.Duration
	PollInterval time.Duration

	// OnPresence is called on every presence edge.
	OnPresence func(present bool)
	// OnRender is called from the loop after every redraw.
	OnRender func(s access.Snapshot)
}

// Master owns the master control loop. HandleKey and Step must be called
// from one goroutine; Run does that itself.
type Master struct {
	cfg   MasterConfig
	log   *slog.Logger
	frame lcd.Frame
}

// NewMaster creates the loop context.
func NewMaster(cfg MasterConfig) (*Master, error) {
	if cfg.Controller == nil {
		return nil, errors.New("safe: master needs a controller")
	}
	if cfg.Keymap == (access.Keymap{}) {
		cfg.Keymap = access.DefaultKeymap
	}
	if cfg.Clock == nil {
		cfg.Clock = access.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = telemetry.DefaultPollInterval
	}
	m := &Master{cfg: cfg, log: cfg.Logger.With("component", "master")}
	m.render()
	return m, nil
}

// HandleKey records the interaction and feeds the key to the controller.
func (m *Master) HandleKey(k access.Key) error {
	if m.cfg.Presence != nil {
		m.cfg.Presence.MarkInteraction()
	}
	err := m.cfg.Controller.HandleKey(k)
	m.render()
	return err
}

// Step runs one loop iteration: sample presence, advance timers and redraw.
func (m *Master) Step() error {
	if p := m.cfg.Presence; p != nil {
		edge := p.Poll(m.cfg.Clock.Now())
		switch edge.Kind {
		case proximity.EdgeArrived:
			m.presenceChanged(true)
			if err := m.cfg.Controller.Wake(); err != nil {
				return err
			}
		case proximity.EdgeLeft:
			m.presenceChanged(false)
			if edge.Interacted {
				m.log.Debug("user left mid-session", "phase", m.cfg.Controller.Phase())
			}
		}
	}
	if err := m.cfg.Controller.Tick(); err != nil {
		return err
	}
	m.render()
	return nil
}

func (m *Master) presenceChanged(present bool) {
	if m.cfg.OnPresence != nil {
		m.cfg.OnPresence(present)
	}
}

func (m *Master) render() {
	snap := m.cfg.Controller.Snapshot()
	m.frame = Render(snap, m.Latest(), m.cfg.Keymap)
	if m.cfg.OnRender != nil {
		m.cfg.OnRender(snap)
	}
	if m.cfg.Display == nil {
		return
	}
	if err := m.cfg.Display.Show(m.frame); err != nil {
		m.log.Warn("display update failed", "error", err)
	}
}

// Frame returns the last rendered display content.
func (m *Master) Frame() lcd.Frame {
	return m.frame
}

// Snapshot returns the controller state.
func (m *Master) Snapshot() access.Snapshot {
	return m.cfg.Controller.Snapshot()
}

// Latest returns the last telemetry reading, or a zero Reading without a
// link.
func (m *Master) Latest() telemetry.Reading {
	if m.cfg.Link == nil {
		return telemetry.Reading{}
	}
	return m.cfg.Link.Latest()
}

// Run polls telemetry in the background and drives the loop from keys and
// the tick timer until ctx is cancelled. Rejected keys are logged.
func (m *Master) Run(ctx context.Context, keys <-chan access.Key) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if m.cfg.Link != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.cfg.Link.Run(ctx, m.cfg.PollInterval)
		}()
	}

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if err := m.HandleKey(k); err != nil {
				if errors.Is(err, access.ErrInput) || errors.Is(err, access.ErrUnknownKey) {
					m.log.Debug("key rejected", "key", k, "error", err)
					continue
				}
				return err
			}
		case <-ticker.C:
			if err := m.Step(); err != nil {
				return err
			}
		}
	}
}
