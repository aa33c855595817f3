// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"
)

// EnvSensor reads temperature and humidity. bmxx80.Dev satisfies it.
type EnvSensor interface {
	Sense(env *physic.Env) error
}

// SoundSensor reports the ambient sound level in percent of full scale.
type SoundSensor interface {
	SoundPercent() (uint8, error)
}

// TiltSensor reports whether the enclosure has been tilted.
type TiltSensor interface {
	Tilted() (bool, error)
}

// SamplerConfig wires the sensors of a Sampler. Nil sensors are skipped and
// their fields keep their zero value.
type SamplerConfig struct {
	Env   EnvSensor
	Sound SoundSensor
	Tilt  TiltSensor
	Now   func() time.Time
	Log   *slog.Logger
}

// Sampler refreshes the server's committed record from sensor inputs.
type Sampler struct {
	srv   *Server
	env   EnvSensor
	sound SoundSensor
	tilt  TiltSensor
	now   func() time.Time
	log   *slog.Logger

	scratch Record
}

// NewSampler creates a sampler committing into srv.
func NewSampler(srv *Server, cfg SamplerConfig) *Sampler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Sampler{
		srv:   srv,
		env:   cfg.Env,
		sound: cfg.Sound,
		tilt:  cfg.Tilt,
		now:   cfg.Now,
		log:   cfg.Log.With("component", "telemetry-sampler"),
	}
}

// SampleOnce reads every sensor into the scratch record and commits it.
// A failing sensor keeps its previous values.
func (s *Sampler) SampleOnce() Record {
	t := s.now()
	clock := RecordFromTime(t)
	s.scratch.Hour = clock.Hour
	s.scratch.Minute = clock.Minute
	s.scratch.Day = clock.Day
	s.scratch.Month = clock.Month
	s.scratch.Year = clock.Year

	if s.env != nil {
		var env physic.Env
		if err := s.env.Sense(&env); err != nil {
			s.log.Warn("environment sensor failed", "error", err)
		} else {
			s.scratch.Temperature = float32(env.Temperature.Celsius())
			s.scratch.Humidity = float32(float64(env.Humidity) / float64(physic.PercentRH))
		}
	}

	if s.sound != nil {
		if pct, err := s.sound.SoundPercent(); err != nil {
			s.log.Warn("sound sensor failed", "error", err)
		} else {
			s.scratch.SoundPercent = pct
		}
	}

	if s.tilt != nil {
		if tilted, err := s.tilt.Tilted(); err != nil {
			s.log.Warn("tilt sensor failed", "error", err)
		} else {
			s.scratch.Tilt = tilted
		}
	}

	s.srv.Commit(s.scratch)
	return s.scratch
}

// Run samples every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.SampleOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
