// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/coffer/internal/store"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// PollHook matches telemetry.LinkConfig.OnPoll.
type PollHook func(telemetry.Reading, []telemetry.ValidationError)

const storeTimeout = 2 * time.Second

// Observers fans an event out to every non-nil observer in order.
func Observers(obs ...access.Observer) access.Observer {
	return func(e access.Event) {
		for _, o := range obs {
			if o != nil {
				o(e)
			}
		}
	}
}

// PollHooks fans a poll result out to every non-nil hook in order.
func PollHooks(hooks ...PollHook) PollHook {
	return func(r telemetry.Reading, a []telemetry.ValidationError) {
		for _, h := range hooks {
			if h != nil {
				h(r, a)
			}
		}
	}
}

// AuditObserver appends every event to the audit log. Failures are logged
// and never reach the controller.
func AuditObserver(events store.EventStore, log *slog.Logger) access.Observer {
	return func(e access.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := events.RecordEvent(ctx, store.EventRecordFrom(e)); err != nil {
			log.Error("failed to record access event", "kind", e.Kind, "error", err)
		}
	}
}

// ReadingRecorder stores fresh readings, at most one per every.
func ReadingRecorder(readings store.ReadingStore, every time.Duration, log *slog.Logger) PollHook {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(r telemetry.Reading, _ []telemetry.ValidationError) {
		if !r.Valid || r.Stale {
			return
		}
		mu.Lock()
		if !last.IsZero() && r.At.Sub(last) < every {
			mu.Unlock()
			return
		}
		last = r.At
		mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := readings.RecordReading(ctx, r); err != nil {
			log.Error("failed to record reading", "error", err)
		}
	}
}
