// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/Thermoquad/coffer/pkg/lcd"
)

// DefaultLCDAddress is the usual PCF8574 backpack address.
const DefaultLCDAddress uint16 = 0x27

// PCF8574 pin assignment on the common backpack
const (
	bitRS        = 0x01
	bitEnable    = 0x04
	bitBacklight = 0x08
)

// HD44780 commands
const (
	cmdClear       = 0x01
	cmdEntryMode   = 0x06 // increment, no shift
	cmdDisplayOn   = 0x0C // display on, cursor off
	cmdFunctionSet = 0x28 // 4-bit, 2 lines, 5x8
	cmdSetCGRAM    = 0x40
	cmdSetDDRAM    = 0x80
)

var rowOffsets = [lcd.Rows]byte{0x00, 0x40}

// CharLCD drives a 16x2 HD44780 through a PCF8574 I2C expander in 4-bit
// mode. Show skips frames identical to the last one written.
type CharLCD struct {
	dev   i2c.Dev
	sleep func(time.Duration)

	mu   sync.Mutex
	last *lcd.Frame
}

var _ lcd.Display = (*CharLCD)(nil)

// NewCharLCD initializes the controller and loads the custom glyphs.
func NewCharLCD(bus i2c.Bus, addr uint16) (*CharLCD, error) {
	return newCharLCD(bus, addr, time.Sleep)
}

func newCharLCD(bus i2c.Bus, addr uint16, sleep func(time.Duration)) (*CharLCD, error) {
	d := &CharLCD{dev: i2c.Dev{Bus: bus, Addr: addr}, sleep: sleep}
	if err := d.init(); err != nil {
		return nil, fmt.Errorf("lcd init: %w", err)
	}
	return d, nil
}

func (d *CharLCD) init() error {
	d.sleep(50 * time.Millisecond)
	// Three 8-bit function sets then the switch to 4-bit.
	for _, n := range []byte{0x03, 0x03, 0x03, 0x02} {
		if err := d.dev.Tx(nibble(n<<4, 0), nil); err != nil {
			return err
		}
		d.sleep(5 * time.Millisecond)
	}
	for _, c := range []byte{cmdFunctionSet, cmdDisplayOn, cmdClear, cmdEntryMode} {
		if err := d.command(c); err != nil {
			return err
		}
	}
	d.sleep(2 * time.Millisecond)

	for slot, rows := range lcd.CustomGlyphs {
		if err := d.command(cmdSetCGRAM | byte(slot)<<3); err != nil {
			return err
		}
		if err := d.write(rows[:]); err != nil {
			return err
		}
	}
	return nil
}

// Show writes f to the display.
func (d *CharLCD) Show(f lcd.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil && *d.last == f {
		return nil
	}
	for row := 0; row < lcd.Rows; row++ {
		if err := d.command(cmdSetDDRAM | rowOffsets[row]); err != nil {
			return err
		}
		if err := d.write(f.Line(row)); err != nil {
			return err
		}
	}
	d.last = &f
	return nil
}

func (d *CharLCD) command(c byte) error {
	return d.dev.Tx(byteOps(c, 0), nil)
}

func (d *CharLCD) write(data []byte) error {
	buf := make([]byte, 0, len(data)*4)
	for _, b := range data {
		buf = append(buf, byteOps(b, bitRS)...)
	}
	return d.dev.Tx(buf, nil)
}

// byteOps splits b into two strobed nibbles, high first.
func byteOps(b, flags byte) []byte {
	return append(nibble(b&0xF0, flags), nibble(b<<4, flags)...)
}

func nibble(hi, flags byte) []byte {
	v := hi&0xF0 | flags | bitBacklight
	return []byte{v | bitEnable, v}
}
