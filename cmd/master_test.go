// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/coffer/internal/safe"
	"github.com/Thermoquad/coffer/internal/sim"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/proximity"
)

func testRig(t *testing.T) *masterRig {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := access.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	rig := &masterRig{
		presence: &sim.Presence{},
		activity: newActivityLog(maxActivityEntries),
	}
	ctrl, err := access.NewController(context.Background(), access.Config{
		Clock:    clock,
		Logger:   logger,
		Observer: rig.activity.observeEvent,
	}, &access.LogActuator{Log: logger})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	rig.master, err = safe.NewMaster(safe.MasterConfig{
		Controller: ctrl,
		Presence:   proximity.NewMonitor(rig.presence, proximity.Config{Logger: logger}),
		Clock:      clock,
		Logger:     logger,
		OnPresence: func(p bool) { rig.activity.add(presenceMessage(p), false) },
	})
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return rig
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(t *testing.T, m masterModel, msg tea.Msg) masterModel {
	t.Helper()
	next, _ := m.Update(msg)
	mm, ok := next.(masterModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm
}

// ============================================================================
// Console model
// ============================================================================

func TestMasterModel_UnlockFromKeyboard(t *testing.T) {
	rig := testRig(t)
	m := newMasterModel(context.Background(), rig)

	m = update(t, m, runeKey('p'))
	if !rig.presence.Present() {
		t.Fatal("'p' did not toggle presence")
	}
	m = update(t, m, masterTickMsg(time.Now()))
	if got := rig.master.Snapshot().Phase; got != access.PhaseWaitInput {
		t.Fatalf("phase = %s, want WAIT_INPUT", got)
	}

	for _, r := range "1234" {
		m = update(t, m, runeKey(r))
	}
	m = update(t, m, masterTickMsg(time.Now()))
	if got := rig.master.Snapshot().Phase; got != access.PhaseGranted {
		t.Fatalf("phase = %s, want GRANTED", got)
	}
	if m.err != nil || m.quitting {
		t.Errorf("model stopped: err=%v quitting=%v", m.err, m.quitting)
	}
}

func TestMasterModel_IgnoresRejectedKeys(t *testing.T) {
	rig := testRig(t)
	m := newMasterModel(context.Background(), rig)

	m = update(t, m, runeKey('p'))
	m = update(t, m, masterTickMsg(time.Now()))
	m = update(t, m, runeKey('1'))

	// Confirm with a partial code is rejected without leaving entry
	m = update(t, m, runeKey('#'))
	if m.err != nil || m.quitting {
		t.Fatalf("rejected key stopped the model: %v", m.err)
	}
	if got := rig.master.Snapshot().Phase; got != access.PhaseWaitInput {
		t.Errorf("phase = %s, want WAIT_INPUT", got)
	}
}

func TestMasterModel_Quit(t *testing.T) {
	rig := testRig(t)
	m := newMasterModel(context.Background(), rig)

	next, cmd := m.Update(runeKey('q'))
	if !next.(masterModel).quitting {
		t.Error("quitting not set")
	}
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("command is not tea.Quit")
	}
}

func TestMasterModel_PresenceDisabledOnHardware(t *testing.T) {
	keys := newMasterKeyMap(false)
	if keys.Presence.Enabled() {
		t.Error("presence binding enabled without simulation")
	}
	if !newMasterKeyMap(true).Presence.Enabled() {
		t.Error("presence binding disabled in simulation")
	}
}

// ============================================================================
// Activity log
// ============================================================================

func TestActivityLog_KeepsLastEntries(t *testing.T) {
	a := newActivityLog(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		a.add(msg, false)
	}
	got := a.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].message != "c" || got[2].message != "e" {
		t.Errorf("entries = %q..%q, want c..e", got[0].message, got[2].message)
	}
}

func TestActivityLog_FlagsFailures(t *testing.T) {
	tests := []struct {
		kind    access.EventKind
		isError bool
	}{
		{access.EventGranted, false},
		{access.EventDenied, true},
		{access.EventCodeChanged, false},
		{access.EventCodeChangeFailed, true},
		{access.EventTimeout, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			a := newActivityLog(10)
			a.observeEvent(access.Event{Kind: tt.kind, Phase: access.PhaseIdle})
			entries := a.snapshot()
			if len(entries) != 1 {
				t.Fatalf("len = %d", len(entries))
			}
			if entries[0].isError != tt.isError {
				t.Errorf("isError = %v, want %v", entries[0].isError, tt.isError)
			}
		})
	}
}
