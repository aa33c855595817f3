// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store defines persistence for the active code and the audit log.
package store

import (
	"context"
	"time"

	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// CodeStore persists the active unlock code. It satisfies access.CodeStore.
type CodeStore interface {
	access.CodeStore
	ClearCode(ctx context.Context) error
}

// EventRecord is one access decision in the audit log.
type EventRecord struct {
	ID             int64
	Kind           access.EventKind
	Phase          access.Phase
	FailedAttempts int
	OccurredAt     time.Time
}

// EventRecordFrom converts a controller event.
func EventRecordFrom(e access.Event) EventRecord {
	return EventRecord{
		Kind:           e.Kind,
		Phase:          e.Phase,
		FailedAttempts: e.FailedAttempts,
		OccurredAt:     e.At,
	}
}

// EventStore is an append-only log of access decisions.
type EventStore interface {
	RecordEvent(ctx context.Context, rec EventRecord) error
	// ListEvents returns the newest events first.
	ListEvents(ctx context.Context, limit int) ([]EventRecord, error)
}

// ReadingStore keeps telemetry readings received by the master.
type ReadingStore interface {
	RecordReading(ctx context.Context, r telemetry.Reading) error
	ListReadings(ctx context.Context, limit int) ([]telemetry.Reading, error)
}
