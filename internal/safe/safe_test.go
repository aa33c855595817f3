// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/Thermoquad/coffer/internal/sim"
	"github.com/Thermoquad/coffer/internal/store/memory"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/lcd"
	"github.com/Thermoquad/coffer/pkg/proximity"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureDisplay struct {
	frames []lcd.Frame
	err    error
}

func (d *captureDisplay) Show(f lcd.Frame) error {
	d.frames = append(d.frames, f)
	return d.err
}

type rig struct {
	clock    *access.MockClock
	presence *sim.Presence
	store    *memory.Store
	display  *captureDisplay
	master   *Master
	events   []access.Event
	edges    []bool
	rendered []access.Phase
}

func newRig(t *testing.T, link *telemetry.Link) *rig {
	t.Helper()
	r := &rig{
		clock:    access.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		presence: &sim.Presence{},
		store:    memory.New(),
		display:  &captureDisplay{},
	}
	log := quietLogger()
	ctrl, err := access.NewController(context.Background(), access.Config{
		Strict: true,
		Clock:  r.clock,
		Logger: log,
		Store:  r.store,
		Observer: Observers(
			AuditObserver(r.store, log),
			func(e access.Event) { r.events = append(r.events, e) },
			nil,
		),
	}, &access.LogActuator{Log: log})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	r.master, err = NewMaster(MasterConfig{
		Controller: ctrl,
		Presence:   proximity.NewMonitor(r.presence, proximity.Config{Logger: log}),
		Link:       link,
		Display:    r.display,
		Clock:      r.clock,
		Logger:     log,
		OnPresence: func(p bool) { r.edges = append(r.edges, p) },
		OnRender:   func(s access.Snapshot) { r.rendered = append(r.rendered, s.Phase) },
	})
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return r
}

func (r *rig) step(t *testing.T, d time.Duration) {
	t.Helper()
	r.clock.Advance(d)
	if err := r.master.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func (r *rig) typeKeys(t *testing.T, keys string) {
	t.Helper()
	for _, c := range keys {
		if err := r.master.HandleKey(access.Key(c)); err != nil {
			t.Fatalf("HandleKey(%c): %v", c, err)
		}
	}
}

func (r *rig) line(row int) string {
	return r.master.Frame().Text()[row]
}

// ============================================================================
// Master loop
// ============================================================================

func TestMaster_PresenceWakesOnce(t *testing.T) {
	r := newRig(t, nil)
	r.step(t, 0)
	if r.master.Snapshot().Phase != access.PhaseIdle {
		t.Fatalf("phase = %s, want IDLE", r.master.Snapshot().Phase)
	}

	r.presence.Set(true)
	r.step(t, proximity.DefaultInterval)
	if got := r.master.Snapshot().Phase; got != access.PhaseWaitInput {
		t.Fatalf("phase = %s, want WAIT_INPUT", got)
	}
	if !strings.HasPrefix(r.line(0), "ENTER CODE:") {
		t.Errorf("line 0 = %q", r.line(0))
	}

	for i := 0; i < 5; i++ {
		r.step(t, proximity.DefaultInterval)
	}
	if len(r.edges) != 1 || !r.edges[0] {
		t.Errorf("presence edges = %v, want [true]", r.edges)
	}

	r.presence.Set(false)
	r.step(t, proximity.DefaultInterval)
	if len(r.edges) != 2 || r.edges[1] {
		t.Errorf("presence edges = %v, want [true false]", r.edges)
	}
}

func TestMaster_UnlockFlow(t *testing.T) {
	r := newRig(t, nil)
	r.presence.Set(true)
	r.step(t, 0)

	r.typeKeys(t, "12")
	if !strings.Contains(r.line(1), "**__") {
		t.Errorf("entry line = %q", r.line(1))
	}
	r.typeKeys(t, "34")
	r.step(t, time.Millisecond)
	if got := r.master.Snapshot().Phase; got != access.PhaseGranted {
		t.Fatalf("phase = %s, want GRANTED", got)
	}
	if !strings.Contains(r.line(0), "ACCESS GRANTED") {
		t.Errorf("line 0 = %q", r.line(0))
	}

	r.step(t, access.DefaultGrantedDisplay)
	if got := r.master.Snapshot().Phase; got != access.PhaseUnlockIdle {
		t.Fatalf("phase = %s, want UNLOCK_IDLE", got)
	}
	if !strings.Contains(r.line(1), "*:MENU") {
		t.Errorf("unlock hint = %q", r.line(1))
	}

	evs, err := r.store.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var kinds []string
	for _, e := range evs {
		kinds = append(kinds, string(e.Kind))
	}
	if !strings.Contains(strings.Join(kinds, ","), string(access.EventGranted)) {
		t.Errorf("audit log kinds = %v", kinds)
	}
	if len(r.display.frames) == 0 {
		t.Error("display never updated")
	}
}

func TestMaster_OnRenderFollowsPhase(t *testing.T) {
	r := newRig(t, nil)
	if len(r.rendered) != 1 || r.rendered[0] != access.PhaseIdle {
		t.Fatalf("initial render = %v", r.rendered)
	}
	r.presence.Set(true)
	r.step(t, 0)
	if got := r.rendered[len(r.rendered)-1]; got != access.PhaseWaitInput {
		t.Errorf("last rendered phase = %s, want WAIT_INPUT", got)
	}
}

func TestMaster_DeniedShowsAttempts(t *testing.T) {
	r := newRig(t, nil)
	r.presence.Set(true)
	r.step(t, 0)
	r.typeKeys(t, "9999")
	r.step(t, time.Millisecond)

	if got := r.master.Snapshot().Phase; got != access.PhaseDenied {
		t.Fatalf("phase = %s, want DENIED", got)
	}
	if !strings.Contains(r.line(1), "ATTEMPTS: 1") {
		t.Errorf("line 1 = %q", r.line(1))
	}
	if r.events[len(r.events)-1].Kind != access.EventDenied {
		t.Errorf("last event = %s", r.events[len(r.events)-1].Kind)
	}
}

func TestMaster_DisplayErrorIsNotFatal(t *testing.T) {
	r := newRig(t, nil)
	r.display.err = errors.New("i2c nack")
	r.step(t, 0)
}

func TestMaster_ShowsTelemetry(t *testing.T) {
	srv := telemetry.NewServer(telemetry.DefaultSlaveAddress, quietLogger())
	rec := telemetry.Record{Hour: 9, Minute: 5, Day: 3, Month: 7, Year: 2025, Temperature: 23.5, Humidity: 48, SoundPercent: 9}
	srv.Commit(rec)
	raw, _ := srv.Snapshot()
	enc := telemetry.Encode(raw)

	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: telemetry.DefaultSlaveAddress, R: enc[:]}},
		DontPanic: true,
	}
	link := telemetry.NewLink(bus, telemetry.LinkConfig{Logger: quietLogger()})
	if _, err := link.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	r := newRig(t, link)
	r.step(t, 0)
	if got := r.line(0); !strings.HasPrefix(got, "09:05 03/07") {
		t.Errorf("line 0 = %q", got)
	}
	if got := r.line(1); !strings.HasPrefix(got, "23.5C ♦48% ♪9%") {
		t.Errorf("line 1 = %q", got)
	}

	// The script is exhausted, so the next poll fails and the reading goes stale.
	link.Poll(context.Background())
	r.step(t, 0)
	if got := r.line(1); !strings.HasSuffix(got, "?") {
		t.Errorf("stale marker missing: %q", got)
	}
}

func TestMaster_Run(t *testing.T) {
	r := newRig(t, nil)
	keys := make(chan access.Key, 8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.master.Run(ctx, keys) }()

	keys <- '#' // rejected in IDLE, must not stop the loop
	keys <- 'x'
	close(keys)
	time.Sleep(3 * DefaultTickInterval)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

// ============================================================================
// Screens
// ============================================================================

func TestRender_AllPhases(t *testing.T) {
	phases := []access.Phase{
		access.PhaseIdle, access.PhaseWaitInput, access.PhaseVerify, access.PhaseGranted,
		access.PhaseDenied, access.PhaseUnlockIdle, access.PhaseUnlockOptions,
		access.PhaseNewCodeEnter, access.PhaseNewCodeConfirm, access.PhaseCodeSuccess,
		access.PhaseCodeFail, access.PhaseRelock,
	}
	blank := lcd.NewFrame()
	for _, p := range phases {
		f := Render(access.Snapshot{Phase: p, CodeLength: 4}, telemetry.Reading{}, access.DefaultKeymap)
		if f == blank {
			t.Errorf("%s renders a blank screen", p)
		}
	}
}

func TestRender_EntryNeverShowsDigits(t *testing.T) {
	f := Render(access.Snapshot{Phase: access.PhaseNewCodeEnter, Input: "5678", CodeLength: 6}, telemetry.Reading{}, access.DefaultKeymap)
	text := f.Text()
	if strings.ContainsAny(text[1], "5678") {
		t.Errorf("digits visible: %q", text[1])
	}
	if !strings.Contains(text[1], "****__") {
		t.Errorf("line 1 = %q", text[1])
	}
}

func TestRender_TiltWarning(t *testing.T) {
	r := telemetry.Reading{Record: telemetry.Record{Day: 1, Month: 1, Tilt: true}, Valid: true}
	f := Render(access.Snapshot{Phase: access.PhaseIdle}, r, access.DefaultKeymap)
	if f[0][lcd.Cols-3] != '!' {
		t.Errorf("tilt marker missing: %q", f.Text()[0])
	}
}

// ============================================================================
// Hooks
// ============================================================================

func TestReadingRecorder_Throttles(t *testing.T) {
	st := memory.New()
	hook := ReadingRecorder(st, time.Minute, quietLogger())
	base := time.Unix(1_700_000_000, 0)

	hook(telemetry.Reading{}, nil)
	hook(telemetry.Reading{At: base, Valid: true}, nil)
	hook(telemetry.Reading{At: base.Add(10 * time.Second), Valid: true}, nil)
	hook(telemetry.Reading{At: base.Add(20 * time.Second), Valid: true, Stale: true}, nil)
	hook(telemetry.Reading{At: base.Add(2 * time.Minute), Valid: true}, nil)

	got, err := st.ListReadings(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListReadings: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored %d readings, want 2", len(got))
	}
}

func TestPollHooks_FanOut(t *testing.T) {
	var a, b int
	h := PollHooks(
		func(telemetry.Reading, []telemetry.ValidationError) { a++ },
		nil,
		func(telemetry.Reading, []telemetry.ValidationError) { b++ },
	)
	h(telemetry.Reading{}, nil)
	if a != 1 || b != 1 {
		t.Errorf("hooks called a=%d b=%d", a, b)
	}
}

// ============================================================================
// Slave
// ============================================================================

func TestSlave_RunCommitsBeforeServing(t *testing.T) {
	env := sim.NewEnvironment(1)
	srv := telemetry.NewServer(telemetry.DefaultSlaveAddress, quietLogger())
	sampler := telemetry.NewSampler(srv, telemetry.SamplerConfig{Env: env, Sound: env, Tilt: env, Log: quietLogger()})
	s, err := NewSlave(SlaveConfig{Server: srv, Sampler: sampler, SampleInterval: 10 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewSlave: %v", err)
	}

	ready := make(chan bool, 1)
	listener := func(ctx context.Context) error {
		_, ok := s.Server().Snapshot()
		ready <- ok
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, listener) }()

	if !<-ready {
		t.Error("listener started before the first record was committed")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestSlave_ListenerFailureStops(t *testing.T) {
	env := sim.NewEnvironment(2)
	srv := telemetry.NewServer(telemetry.DefaultSlaveAddress, quietLogger())
	sampler := telemetry.NewSampler(srv, telemetry.SamplerConfig{Env: env, Log: quietLogger()})
	s, _ := NewSlave(SlaveConfig{Server: srv, Sampler: sampler, Logger: quietLogger()})

	boom := errors.New("serial port gone")
	err := s.Run(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestNewSlave_RequiresParts(t *testing.T) {
	if _, err := NewSlave(SlaveConfig{}); err == nil {
		t.Error("expected error")
	}
	if _, err := NewMaster(MasterConfig{}); err == nil {
		t.Error("expected error")
	}
}
