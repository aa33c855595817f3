// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safe

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/lcd"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// Render draws the display content for a controller snapshot. The idle
// screen shows the latest telemetry; every other phase shows its prompt.
func Render(s access.Snapshot, r telemetry.Reading, km access.Keymap) lcd.Frame {
	f := lcd.NewFrame()

	switch s.Phase {
	case access.PhaseIdle:
		renderIdle(&f, r)
	case access.PhaseWaitInput:
		f.SetLine(0, "ENTER CODE:")
		renderEntry(&f, s)
	case access.PhaseVerify:
		f.SetCentered(0, "CHECKING...")
	case access.PhaseGranted:
		f.SetCentered(0, "ACCESS GRANTED")
		f.PutGlyph(7, 1, lcd.GlyphUnlocked)
	case access.PhaseDenied:
		f.SetCentered(0, "ACCESS DENIED")
		f.SetCentered(1, fmt.Sprintf("ATTEMPTS: %d", s.FailedAttempts))
	case access.PhaseUnlockIdle:
		f.SetLine(0, "  UNLOCKED")
		f.PutGlyph(0, 0, lcd.GlyphUnlocked)
		f.SetLine(1, fmt.Sprintf("%c:MENU  %c:LOCK", km.Menu, km.Lock))
	case access.PhaseUnlockOptions:
		f.SetLine(0, fmt.Sprintf("  %c CHANGE CODE", km.ChangeCode))
		f.SetLine(1, fmt.Sprintf("  %c LOCK  %c BACK", km.Lock, km.Cancel))
		f.PutGlyph(0, 0, lcd.GlyphRightArrow)
		f.PutGlyph(0, 1, lcd.GlyphRightArrow)
	case access.PhaseNewCodeEnter:
		f.SetLine(0, "NEW CODE:")
		renderEntry(&f, s)
	case access.PhaseNewCodeConfirm:
		f.SetLine(0, "CONFIRM CODE:")
		renderEntry(&f, s)
	case access.PhaseCodeSuccess:
		f.SetCentered(0, "CODE CHANGED")
	case access.PhaseCodeFail:
		f.SetCentered(0, "CODES DIFFER")
		f.SetCentered(1, "TRY AGAIN")
	case access.PhaseRelock:
		f.SetCentered(0, "LOCKING...")
		f.PutGlyph(7, 1, lcd.GlyphLocked)
	}
	return f
}

// renderEntry masks typed digits and shows the remaining slots.
func renderEntry(f *lcd.Frame, s access.Snapshot) {
	typed := len(s.Input)
	if typed > s.CodeLength {
		typed = s.CodeLength
	}
	f.SetLine(1, "  "+strings.Repeat("*", typed)+strings.Repeat("_", s.CodeLength-typed))
	f.PutGlyph(0, 1, lcd.GlyphRightArrow)
}

func renderIdle(f *lcd.Frame, r telemetry.Reading) {
	if !r.Valid {
		f.SetLine(0, "  LOCKED")
		f.SetLine(1, "NO TELEMETRY")
		f.PutGlyph(0, 0, lcd.GlyphLocked)
		return
	}

	rec := r.Record
	f.SetLine(0, fmt.Sprintf("%02d:%02d %02d/%02d", rec.Hour, rec.Minute, rec.Day, rec.Month))
	f.PutGlyph(lcd.Cols-1, 0, lcd.GlyphLocked)
	if rec.Tilt {
		f.Put(lcd.Cols-3, 0, '!')
	}

	// "21.5C <drop>45% <note>7%"
	col := put(f, 0, 1, fmt.Sprintf("%.1fC ", rec.Temperature))
	f.PutGlyph(col, 1, lcd.GlyphWaterDrop)
	col = put(f, col+1, 1, fmt.Sprintf("%.0f%% ", rec.Humidity))
	f.PutGlyph(col, 1, lcd.GlyphSound)
	put(f, col+1, 1, fmt.Sprintf("%d%%", rec.SoundPercent))
	if r.Stale {
		f.Put(lcd.Cols-1, 1, '?')
	}
}

// put writes s at col and returns the column after it.
func put(f *lcd.Frame, col, row int, s string) int {
	for i := 0; i < len(s); i++ {
		f.Put(col+i, row, s[i])
	}
	return col + len(s)
}
