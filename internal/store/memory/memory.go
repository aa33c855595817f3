// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package memory implements the stores in memory for tests and simulation.
package memory

import (
	"context"
	"sync"

	"github.com/Thermoquad/coffer/internal/store"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// Store implements every store interface.
type Store struct {
	mu       sync.Mutex
	code     string
	events   []store.EventRecord
	readings []telemetry.Reading
}

var (
	_ store.CodeStore    = (*Store)(nil)
	_ store.EventStore   = (*Store)(nil)
	_ store.ReadingStore = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

func (s *Store) LoadCode(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == "" {
		return "", access.ErrNoCode
	}
	return s.code, nil
}

func (s *Store) SaveCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	return nil
}

func (s *Store) ClearCode(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = ""
	return nil
}

func (s *Store) RecordEvent(_ context.Context, rec store.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.events) + 1)
	s.events = append(s.events, rec)
	return nil
}

func (s *Store) ListEvents(_ context.Context, limit int) ([]store.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.events, limit), nil
}

func (s *Store) RecordReading(_ context.Context, r telemetry.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Err = nil
	s.readings = append(s.readings, r)
	return nil
}

func (s *Store) ListReadings(_ context.Context, limit int) ([]telemetry.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.readings, limit), nil
}

func newestFirst[T any](in []T, limit int) []T {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]T, 0, limit)
	for i := len(in) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, in[i])
	}
	return out
}
