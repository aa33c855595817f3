// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package access implements the keypad-driven access controller of the safe.
//
// The controller is a single state machine spanning the locked side (code
// entry and verification) and the unlocked side (options, code change and
// relock). It is driven by three inputs: key presses, periodic ticks, and
// presence wake-ups. Nothing in the locked side is fatal; every path leads
// back to PhaseIdle.
package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Code length bounds
const (
	MinCodeLength     = 4
	MaxCodeLength     = 8
	DefaultCodeLength = 4
)

// Default timings
const (
	DefaultInactivityTimeout    = 5 * time.Second
	DefaultGrantedDisplay       = 2 * time.Second
	DefaultDeniedDisplay        = 1500 * time.Millisecond
	DefaultMaxCodeChangeRetries = 3
)

// DefaultCode is used when no code has been stored yet.
const DefaultCode = "1234"

// Config configures a Controller. Zero values select the defaults.
type Config struct {
	CodeLength  int
	DefaultCode string
	Keymap      Keymap

	InactivityTimeout time.Duration
	GrantedDisplay    time.Duration // Granted and CodeSuccess
	DeniedDisplay     time.Duration // Denied and CodeFail
	AutoRelock        time.Duration // 0 disables

	MaxCodeChangeRetries int

	// Strict makes illegal transitions fail loudly instead of being ignored.
	Strict bool

	Clock    Clock
	Logger   *slog.Logger
	Observer Observer
	Store    CodeStore
}

func (c Config) withDefaults() Config {
	if c.CodeLength == 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.DefaultCode == "" {
		c.DefaultCode = DefaultCode
	}
	if c.Keymap == (Keymap{}) {
		c.Keymap = DefaultKeymap
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.GrantedDisplay == 0 {
		c.GrantedDisplay = DefaultGrantedDisplay
	}
	if c.DeniedDisplay == 0 {
		c.DeniedDisplay = DefaultDeniedDisplay
	}
	if c.MaxCodeChangeRetries == 0 {
		c.MaxCodeChangeRetries = DefaultMaxCodeChangeRetries
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.CodeLength < MinCodeLength || c.CodeLength > MaxCodeLength {
		return fmt.Errorf("code length %d out of range %d-%d", c.CodeLength, MinCodeLength, MaxCodeLength)
	}
	if err := ValidateCode(c.DefaultCode, c.CodeLength); err != nil {
		return fmt.Errorf("default code: %w", err)
	}
	if err := c.Keymap.Validate(); err != nil {
		return err
	}
	if c.InactivityTimeout < 0 || c.GrantedDisplay < 0 || c.DeniedDisplay < 0 || c.AutoRelock < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.MaxCodeChangeRetries < 1 {
		return fmt.Errorf("max code change retries must be at least 1")
	}
	return nil
}

// ValidateCode checks that code is exactly length decimal digits.
func ValidateCode(code string, length int) error {
	if len(code) != length {
		return fmt.Errorf("%w: need %d digits, got %d", ErrInvalidCode, length, len(code))
	}
	for i := 0; i < len(code); i++ {
		if !Key(code[i]).IsDigit() {
			return fmt.Errorf("%w: %q is not a digit", ErrInvalidCode, code[i])
		}
	}
	return nil
}

// Snapshot is a read-only view of the session for display and tests.
type Snapshot struct {
	Phase          Phase
	Input          string // digits typed in the current entry phase
	FailedAttempts int
	PhaseStart     time.Time
	CodeLength     int
}

// Controller is the access state machine. It is not safe for concurrent use;
// the owning control loop serialises HandleKey, Tick and Wake.
type Controller struct {
	cfg Config
	act Actuator
	log *slog.Logger

	state          state
	activeCode     []byte
	failedAttempts int
	changeFails    int // consecutive code-change mismatches
	phaseStart     time.Time
	lastActivity   time.Time
}

// NewController creates a controller in PhaseIdle. The active code is loaded
// from cfg.Store when present, otherwise cfg.DefaultCode is used.
func NewController(ctx context.Context, cfg Config, act Actuator) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Controller{
		cfg:        cfg,
		act:        act,
		log:        cfg.Logger.With("component", "access"),
		state:      idleState{},
		activeCode: []byte(cfg.DefaultCode),
	}

	if cfg.Store != nil {
		code, err := cfg.Store.LoadCode(ctx)
		switch {
		case errors.Is(err, ErrNoCode):
			c.log.Info("no stored code, using default")
		case err != nil:
			return nil, fmt.Errorf("load code: %w", err)
		case ValidateCode(code, cfg.CodeLength) != nil:
			c.log.Warn("stored code does not match code length, using default", "length", cfg.CodeLength)
		default:
			c.activeCode = []byte(code)
		}
	}

	now := c.now()
	c.phaseStart = now
	c.lastActivity = now
	return c, nil
}

func (c *Controller) now() time.Time {
	return c.cfg.Clock.Now()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return c.state.phase()
}

// FailedAttempts returns the number of mismatches since the last success.
// An external lockout policy may act on it; the controller never does.
func (c *Controller) FailedAttempts() int {
	return c.failedAttempts
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		Phase:          c.Phase(),
		FailedAttempts: c.failedAttempts,
		PhaseStart:     c.phaseStart,
		CodeLength:     c.cfg.CodeLength,
	}
	switch st := c.state.(type) {
	case waitInputState:
		s.Input = string(st.input)
	case verifyState:
		s.Input = string(st.attempt)
	case newCodeEnterState:
		s.Input = string(st.input)
	case newCodeConfirmState:
		s.Input = string(st.input)
	}
	return s
}

// Wake arms code entry on presence arrival. It only acts in PhaseIdle and
// never adds input.
func (c *Controller) Wake() error {
	if c.Phase() != PhaseIdle {
		return nil
	}
	c.lastActivity = c.now()
	return c.transition(waitInputState{})
}

// HandleKey feeds one key press. ErrInput reports a key that was rejected
// without changing phase.
func (c *Controller) HandleKey(k Key) error {
	if _, err := ParseKey(rune(k)); err != nil {
		return err
	}
	c.lastActivity = c.now()
	km := c.cfg.Keymap

	switch st := c.state.(type) {
	case idleState:
		// The arming digit wakes the keypad and is not part of the code
		if !k.IsDigit() {
			return nil
		}
		return c.transition(waitInputState{})

	case waitInputState:
		switch {
		case k.IsDigit():
			input := append(st.input, byte(k))
			if len(input) >= c.cfg.CodeLength {
				return c.transition(verifyState{attempt: input})
			}
			c.state = waitInputState{input: input}
			return nil
		case k == km.Cancel:
			return c.transition(idleState{})
		case k == km.Confirm:
			return fmt.Errorf("%w: %d of %d digits", ErrInput, len(st.input), c.cfg.CodeLength)
		}
		return fmt.Errorf("%w: key %s during code entry", ErrInput, k)

	case unlockIdleState:
		switch k {
		case km.Menu:
			return c.transition(unlockOptionsState{})
		case km.Lock:
			return c.transition(relockState{})
		}
		return nil

	case unlockOptionsState:
		switch k {
		case km.ChangeCode:
			c.changeFails = 0
			return c.transition(newCodeEnterState{})
		case km.Lock:
			return c.transition(relockState{})
		case km.Cancel:
			return c.transition(unlockIdleState{})
		}
		return fmt.Errorf("%w: key %s in options", ErrInput, k)

	case newCodeEnterState:
		switch {
		case k.IsDigit():
			if len(st.input) >= c.cfg.CodeLength {
				return fmt.Errorf("%w: code is %d digits", ErrInput, c.cfg.CodeLength)
			}
			c.state = newCodeEnterState{input: append(st.input, byte(k))}
			return nil
		case k == km.Confirm:
			if len(st.input) != c.cfg.CodeLength {
				return fmt.Errorf("%w: %d of %d digits", ErrInput, len(st.input), c.cfg.CodeLength)
			}
			return c.transition(newCodeConfirmState{pending: st.input})
		case k == km.Cancel:
			return c.transition(unlockIdleState{})
		}
		return fmt.Errorf("%w: key %s during code entry", ErrInput, k)

	case newCodeConfirmState:
		switch {
		case k.IsDigit():
			if len(st.input) >= c.cfg.CodeLength {
				return fmt.Errorf("%w: code is %d digits", ErrInput, c.cfg.CodeLength)
			}
			c.state = newCodeConfirmState{pending: st.pending, input: append(st.input, byte(k))}
			return nil
		case k == km.Confirm:
			if len(st.input) != c.cfg.CodeLength {
				return fmt.Errorf("%w: %d of %d digits", ErrInput, len(st.input), c.cfg.CodeLength)
			}
			if codesEqual(st.input, st.pending) {
				return c.commitCode(st.pending)
			}
			return c.failCodeChange()
		case k == km.Cancel:
			return c.transition(unlockIdleState{})
		}
		return fmt.Errorf("%w: key %s during code entry", ErrInput, k)
	}

	// Verify, Granted, Denied, CodeSuccess, CodeFail and Relock resolve on
	// Tick and ignore the keypad.
	return nil
}

// Tick advances timers. Call it once per loop iteration.
func (c *Controller) Tick() error {
	now := c.now()
	inPhase := now.Sub(c.phaseStart)
	phase := c.Phase()

	if phase.Interactive() && now.Sub(c.lastActivity) >= c.cfg.InactivityTimeout {
		var next state = idleState{}
		if phase.Unlocked() {
			next = unlockIdleState{}
		}
		if err := c.transition(next); err != nil {
			return err
		}
		c.emit(EventTimeout)
		return nil
	}

	switch st := c.state.(type) {
	case verifyState:
		if codesEqual(st.attempt, c.activeCode) {
			c.failedAttempts = 0
			if err := c.transition(grantedState{}); err != nil {
				return err
			}
			c.act.Unlock()
			c.act.SignalGranted()
			c.emit(EventGranted)
			return nil
		}
		c.failedAttempts++
		if err := c.transition(deniedState{}); err != nil {
			return err
		}
		c.act.SignalDenied()
		c.emit(EventDenied)
		return nil

	case grantedState:
		if inPhase >= c.cfg.GrantedDisplay {
			c.lastActivity = now
			if err := c.transition(unlockIdleState{}); err != nil {
				return err
			}
			c.emit(EventUnlocked)
		}

	case deniedState:
		if inPhase >= c.cfg.DeniedDisplay {
			return c.transition(idleState{})
		}

	case unlockIdleState:
		if c.cfg.AutoRelock > 0 && now.Sub(c.lastActivity) >= c.cfg.AutoRelock {
			return c.transition(relockState{})
		}

	case codeSuccessState:
		if inPhase >= c.cfg.GrantedDisplay {
			return c.transition(relockState{})
		}

	case codeFailState:
		if inPhase >= c.cfg.DeniedDisplay {
			c.lastActivity = now
			if c.changeFails >= c.cfg.MaxCodeChangeRetries {
				c.changeFails = 0
				return c.transition(unlockOptionsState{})
			}
			return c.transition(newCodeEnterState{})
		}

	case relockState:
		return c.transition(idleState{})
	}
	return nil
}

func (c *Controller) commitCode(code []byte) error {
	if err := c.transition(codeSuccessState{}); err != nil {
		return err
	}
	c.activeCode = code
	c.failedAttempts = 0
	c.changeFails = 0
	c.act.SignalGranted()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.SaveCode(context.Background(), string(code)); err != nil {
			c.log.Error("failed to persist new code", "error", err)
		}
	}
	c.emit(EventCodeChanged)
	return nil
}

func (c *Controller) failCodeChange() error {
	if err := c.transition(codeFailState{}); err != nil {
		return err
	}
	c.failedAttempts++
	c.changeFails++
	c.act.SignalDenied()
	c.emit(EventCodeChangeFailed)
	return nil
}

// transition moves to next if the table allows it. Entering Relock engages
// the bolt.
func (c *Controller) transition(next state) error {
	from, to := c.Phase(), next.phase()
	if !allowed(from, to) {
		err := fmt.Errorf("%w: %s -> %s", ErrPhaseInvariant, from, to)
		if c.cfg.Strict {
			return err
		}
		c.log.Debug("ignored illegal transition", "error", err)
		return nil
	}

	c.state = next
	c.phaseStart = c.now()
	c.log.Debug("phase", "from", from, "to", to)

	if to == PhaseRelock {
		c.act.Lock()
		c.emit(EventRelocked)
	}
	return nil
}

func (c *Controller) emit(kind EventKind) {
	if c.cfg.Observer == nil {
		return
	}
	c.cfg.Observer(Event{
		Kind:           kind,
		Phase:          c.Phase(),
		FailedAttempts: c.failedAttempts,
		At:             c.now(),
	})
}

func codesEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
