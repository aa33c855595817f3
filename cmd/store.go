// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/coffer/internal/db"
	"github.com/Thermoquad/coffer/internal/store/sqlite"
)

// openStore opens the configured database. The returned function stops the
// write worker and closes the database.
func openStore(ctx context.Context) (*sqlite.Store, func(), error) {
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	worker := db.NewWorker(conn, db.WorkerConfig{QueueSize: cfg.DBQueueSize, Logger: logger})
	closeFn := func() {
		worker.Close()
		conn.Close()
	}
	return sqlite.New(conn, worker), closeFn, nil
}
