// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lcd models the 16x2 character display as a frame of character
// codes. Codes 0-3 address the custom glyph slots loaded at startup; 126 is
// the controller's built-in right arrow.
package lcd

import "strings"

// Display geometry
const (
	Cols = 16
	Rows = 2
)

// Glyph is a character code with a custom or built-in icon.
type Glyph byte

// Glyph slots
const (
	GlyphLocked     Glyph = 0
	GlyphUnlocked   Glyph = 1
	GlyphWaterDrop  Glyph = 2
	GlyphSound      Glyph = 3
	GlyphRightArrow Glyph = 126
)

// CustomGlyphs holds the 5x8 bitmaps for the programmable slots, one row
// per byte, low five bits used.
var CustomGlyphs = [4][8]byte{
	GlyphLocked:    {0b01110, 0b10001, 0b10001, 0b11111, 0b11011, 0b11011, 0b11111, 0b00000},
	GlyphUnlocked:  {0b01110, 0b10000, 0b10000, 0b11111, 0b11011, 0b11011, 0b11111, 0b00000},
	GlyphWaterDrop: {0b00100, 0b01100, 0b01100, 0b11110, 0b11110, 0b01100, 0b00000, 0b00000},
	GlyphSound:     {0b00100, 0b01110, 0b11111, 0b01110, 0b00100, 0b01010, 0b10001, 0b00000},
}

// glyphRunes is how glyphs appear on terminals.
var glyphRunes = map[Glyph]rune{
	GlyphLocked:     '■',
	GlyphUnlocked:   '□',
	GlyphWaterDrop:  '♦',
	GlyphSound:      '♪',
	GlyphRightArrow: '→',
}

// Display is a sink for rendered frames.
type Display interface {
	Show(f Frame) error
}

// Frame is the full content of the display.
type Frame [Rows][Cols]byte

// NewFrame returns a blank frame.
func NewFrame() Frame {
	var f Frame
	for r := range f {
		for c := range f[r] {
			f[r][c] = ' '
		}
	}
	return f
}

// SetLine writes s into row, truncated or padded with spaces.
func (f *Frame) SetLine(row int, s string) {
	if row < 0 || row >= Rows {
		return
	}
	for c := 0; c < Cols; c++ {
		if c < len(s) {
			f[row][c] = s[c]
		} else {
			f[row][c] = ' '
		}
	}
}

// SetCentered writes s centred in row.
func (f *Frame) SetCentered(row int, s string) {
	if len(s) >= Cols {
		f.SetLine(row, s)
		return
	}
	pad := (Cols - len(s)) / 2
	f.SetLine(row, strings.Repeat(" ", pad)+s)
}

// Put places a single character code.
func (f *Frame) Put(col, row int, b byte) {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return
	}
	f[row][col] = b
}

// PutGlyph places a glyph.
func (f *Frame) PutGlyph(col, row int, g Glyph) {
	f.Put(col, row, byte(g))
}

// Line returns the raw character codes of row.
func (f Frame) Line(row int) []byte {
	return f[row][:]
}

// Text renders the frame for a terminal, substituting glyph codes with
// printable runes.
func (f Frame) Text() [Rows]string {
	var out [Rows]string
	for r := range f {
		var sb strings.Builder
		for _, b := range f[r] {
			if g, ok := glyphRunes[Glyph(b)]; ok {
				sb.WriteRune(g)
			} else if b < 0x20 || b > 0x7E {
				sb.WriteByte('?')
			} else {
				sb.WriteByte(b)
			}
		}
		out[r] = sb.String()
	}
	return out
}
