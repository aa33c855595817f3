// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// Listener serves the slave's record on one transport until ctx ends.
type Listener func(ctx context.Context) error

// SlaveConfig wires a Slave.
type SlaveConfig struct {
	Server         *telemetry.Server
	Sampler        *telemetry.Sampler
	SampleInterval time.Duration
	Logger         *slog.Logger
}

// Slave owns the sampling loop and the transports answering the master.
type Slave struct {
	cfg SlaveConfig
	log *slog.Logger
}

// NewSlave creates the loop context.
func NewSlave(cfg SlaveConfig) (*Slave, error) {
	if cfg.Server == nil || cfg.Sampler == nil {
		return nil, errors.New("safe: slave needs a server and a sampler")
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = telemetry.DefaultSampleInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slave{cfg: cfg, log: cfg.Logger.With("component", "slave")}, nil
}

// Server returns the record server.
func (s *Slave) Server() *telemetry.Server {
	return s.cfg.Server
}

// Run samples once so the first request finds a record, then runs the
// sampler and every listener until ctx is cancelled or a listener fails.
func (s *Slave) Run(ctx context.Context, listeners ...Listener) error {
	s.cfg.Sampler.SampleOnce()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(listeners)+1)
	var wg sync.WaitGroup
	start := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fn(ctx)
		}()
	}

	start(func(ctx context.Context) error {
		return s.cfg.Sampler.Run(ctx, s.cfg.SampleInterval)
	})
	for _, l := range listeners {
		start(l)
	}

	err := <-errs
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	if err != nil {
		s.log.Error("slave stopped", "error", err)
	}
	return err
}
