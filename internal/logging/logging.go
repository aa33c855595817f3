// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options selects the handler.
type Options struct {
	Env     string // "dev" (coloured text) or "prod" (JSON)
	Level   slog.Level
	App     string
	Version string
	Output  io.Writer // defaults to stderr
	NoColor bool
}

// New returns a tint handler in dev and a JSON handler in prod.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Env != "prod" {
		h := tint.NewHandler(out, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
			NoColor:    opts.NoColor,
		})
		return slog.New(h).With("app", opts.App)
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(h).With(
		"app", opts.App,
		"version", opts.Version,
		"env", opts.Env,
	)
}

// OpenFile opens path for appending, for use as Options.Output while a TUI
// owns the terminal.
func OpenFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
