// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// ErrBus wraps every failed poll: timeouts, transport errors and malformed
// responses alike. A bus error is never fatal to the caller's loop.
var ErrBus = errors.New("telemetry: bus error")

// errTxPending reports that an earlier transaction has not returned yet.
var errTxPending = errors.New("previous transaction still outstanding")

// Reading is the latest record known to the master.
type Reading struct {
	Record Record
	At     time.Time // when Record was received
	Stale  bool      // last poll failed and Record is from an earlier one
	Valid  bool      // false until the first successful poll
	Err    error     // error of the last failed poll, nil after a success
}

// LinkConfig configures a Link.
type LinkConfig struct {
	Address uint16        // slave address, DefaultSlaveAddress if zero
	Timeout time.Duration // per-transaction bound, DefaultBusTimeout if zero
	Logger  *slog.Logger

	// OnPoll, if set, is called after every poll with the resulting reading.
	OnPoll func(r Reading, anomalies []ValidationError)
}

// Link polls the telemetry slave and keeps the last known reading.
type Link struct {
	dev     i2c.Dev
	timeout time.Duration
	log     *slog.Logger
	onPoll  func(Reading, []ValidationError)

	mu     sync.Mutex
	latest Reading
	stats  *Statistics

	txMu    sync.Mutex
	pending chan error // set while a Tx goroutine has not returned
}

// NewLink creates a link reading from bus.
func NewLink(bus i2c.Bus, cfg LinkConfig) *Link {
	if cfg.Address == 0 {
		cfg.Address = DefaultSlaveAddress
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBusTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{
		dev:     i2c.Dev{Bus: bus, Addr: cfg.Address},
		timeout: cfg.Timeout,
		log:     cfg.Logger.With("component", "telemetry-link", "addr", fmt.Sprintf("0x%02X", cfg.Address)),
		onPoll:  cfg.OnPoll,
		stats:   NewStatistics(),
	}
}

// Poll performs one read transaction. On failure the previous record is kept
// and marked stale, and the returned error wraps ErrBus.
func (l *Link) Poll(ctx context.Context) (Reading, error) {
	raw, err := l.read(ctx)
	var rec Record
	if err == nil {
		rec, err = Decode(raw)
	}

	var anomalies []ValidationError
	l.mu.Lock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBus, err)
		l.latest.Stale = l.latest.Valid
		l.latest.Err = err
	} else {
		anomalies = ValidateRecord(rec)
		l.latest = Reading{Record: rec, At: time.Now(), Valid: true}
	}
	l.stats.Update(err, anomalies)
	r := l.latest
	l.mu.Unlock()

	if err != nil {
		l.log.Debug("poll failed", "error", err)
	}
	for _, a := range anomalies {
		l.log.Warn("record anomaly", "anomaly", a.Message)
	}
	if l.onPoll != nil {
		l.onPoll(r, anomalies)
	}
	return r, err
}

// read runs the transaction on its own goroutine so a wedged bus cannot hold
// the caller past the timeout. The buffer is private to the attempt.
//
// A transaction that outlives its poll stays outstanding, and later polls
// fail with errTxPending instead of stacking more goroutines on the bus. Its
// eventual result belongs to the abandoned poll and is discarded.
func (l *Link) read(ctx context.Context) ([]byte, error) {
	l.txMu.Lock()
	if l.pending != nil {
		select {
		case <-l.pending:
		default:
			l.txMu.Unlock()
			return nil, errTxPending
		}
	}
	buf := make([]byte, RecordSize)
	done := make(chan error, 1)
	l.pending = done
	l.txMu.Unlock()

	go func() {
		done <- l.dev.Tx(nil, buf)
	}()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		l.txMu.Lock()
		l.pending = nil
		l.txMu.Unlock()
		if err != nil {
			return nil, err
		}
		return buf, nil
	case <-timer.C:
		return nil, fmt.Errorf("no response within %s", l.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Latest returns the last known reading. Safe for concurrent use.
func (l *Link) Latest() Reading {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// Stats returns a copy of the poll statistics.
func (l *Link) Stats() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.stats
}

// ResetStats clears the poll statistics.
func (l *Link) ResetStats() {
	l.mu.Lock()
	l.stats.Reset()
	l.mu.Unlock()
}

// Run polls every interval until ctx is cancelled.
func (l *Link) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = l.Poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
