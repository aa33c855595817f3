// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrWorkerClosed is returned by Do once Close has been called.
var ErrWorkerClosed = errors.New("db: write worker closed")

// DefaultQueueSize is the number of writes that may wait for the worker.
const DefaultQueueSize = 64

// DefaultSlowWrite is the transaction time above which a warning is logged.
const DefaultSlowWrite = 250 * time.Millisecond

// TxFn runs inside a write transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx  context.Context
	name string
	fn   TxFn
	ch   chan error
}

// WorkerConfig tunes a Worker. The zero value uses the defaults.
type WorkerConfig struct {
	QueueSize int
	SlowWrite time.Duration
	Logger    *slog.Logger
}

// Worker serialises writes on one goroutine so the control loop never waits
// on SQLITE_BUSY.
type Worker struct {
	db   *sql.DB
	slow time.Duration
	log  *slog.Logger

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	jobs   chan job
	done   chan struct{}
}

// NewWorker starts a writer for db.
func NewWorker(db *sql.DB, cfg WorkerConfig) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SlowWrite <= 0 {
		cfg.SlowWrite = DefaultSlowWrite
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Worker{
		db:   db,
		slow: cfg.SlowWrite,
		log:  cfg.Logger.With("component", "db-writer"),
		jobs: make(chan job, cfg.QueueSize),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close runs the writes already queued and stops the worker. It is safe to
// call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// Do runs fn in a transaction and waits for the result or ctx. name labels
// the write in slow-write warnings.
func (w *Worker) Do(ctx context.Context, name string, fn TxFn) error {
	ch := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWorkerClosed
	}
	select {
	case w.jobs <- job{ctx: ctx, name: name, fn: fn, ch: ch}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		// The caller gave up while the job was queued
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}
		start := time.Now()
		j.ch <- w.run(j)
		if d := time.Since(start); d > w.slow {
			w.log.Warn("slow write", "write", j.name, "duration", d)
		}
	}
}

func (w *Worker) run(j job) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
