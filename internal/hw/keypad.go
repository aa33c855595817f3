// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/Thermoquad/coffer/pkg/access"
)

// DefaultScanInterval doubles as the debounce period.
const DefaultScanInterval = 20 * time.Millisecond

// Keypad scans a 4x4 membrane matrix. Rows are driven low one at a time and
// columns read with pull-ups.
type Keypad struct {
	rows [4]gpio.PinOut
	cols [4]gpio.PinIn
	held access.Key
}

// NewKeypad configures the matrix pins.
func NewKeypad(rows [4]gpio.PinOut, cols [4]gpio.PinIn) (*Keypad, error) {
	for i, r := range rows {
		if err := r.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("keypad row %d: %w", i, err)
		}
	}
	for i, c := range cols {
		if err := c.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("keypad col %d: %w", i, err)
		}
	}
	return &Keypad{rows: rows, cols: cols}, nil
}

// Scan returns the first key held down, or false.
func (k *Keypad) Scan() (access.Key, bool, error) {
	for r, row := range k.rows {
		if err := row.Out(gpio.Low); err != nil {
			return 0, false, err
		}
		for c, col := range k.cols {
			if col.Read() == gpio.Low {
				if err := row.Out(gpio.High); err != nil {
					return 0, false, err
				}
				return access.KeypadLayout[r][c], true, nil
			}
		}
		if err := row.Out(gpio.High); err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// Poll reports a key once per press.
func (k *Keypad) Poll() (access.Key, bool, error) {
	key, down, err := k.Scan()
	if err != nil {
		return 0, false, err
	}
	if !down {
		k.held = 0
		return 0, false, nil
	}
	if key == k.held {
		return 0, false, nil
	}
	k.held = key
	return key, true, nil
}

// Run sends each new press on keys until ctx is cancelled.
func (k *Keypad) Run(ctx context.Context, interval time.Duration, keys chan<- access.Key) error {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		key, ok, err := k.Poll()
		if err != nil {
			return fmt.Errorf("keypad: %w", err)
		}
		if !ok {
			continue
		}
		select {
		case keys <- key:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
