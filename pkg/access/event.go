// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package access

import (
	"context"
	"errors"
	"time"
)

// Controller errors
var (
	// ErrInput is returned for an incomplete entry or a key that means
	// nothing in the current phase. The phase does not change.
	ErrInput = errors.New("access: invalid input")

	// ErrPhaseInvariant marks an attempted transition missing from the
	// transition table.
	ErrPhaseInvariant = errors.New("access: illegal phase transition")

	// ErrInvalidCode is returned when a code is not exactly CodeLength digits.
	ErrInvalidCode = errors.New("access: invalid code")

	// ErrNoCode is returned by a CodeStore that holds no code yet.
	ErrNoCode = errors.New("access: no stored code")
)

// EventKind classifies an access decision.
type EventKind string

const (
	EventGranted          EventKind = "granted"
	EventDenied           EventKind = "denied"
	EventTimeout          EventKind = "timeout"
	EventCodeChanged      EventKind = "code_changed"
	EventCodeChangeFailed EventKind = "code_change_failed"
	EventUnlocked         EventKind = "unlocked"
	EventRelocked         EventKind = "relocked"
)

// Event is emitted for every access decision.
type Event struct {
	Kind           EventKind
	Phase          Phase // phase the decision left the controller in
	FailedAttempts int
	At             time.Time
}

// Observer receives events synchronously from the control loop.
type Observer func(Event)

// CodeStore persists the active code.
type CodeStore interface {
	LoadCode(ctx context.Context) (string, error)
	SaveCode(ctx context.Context, code string) error
}
