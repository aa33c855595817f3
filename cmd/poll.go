// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/pkg/telemetry"
)

var (
	pollCount         int
	pollInterval      time.Duration
	pollStatsInterval int
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the telemetry slave and print readings",
	Long: `Poll the telemetry slave the same way the master does and print every
reading, with anomalies and periodic statistics.

A failed poll keeps the previous record and marks it stale.

Exit codes:
  0 - All polls succeeded (or interrupted)
  1 - One or more polls failed
  2 - Bus could not be opened`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().IntVar(&pollCount, "count", 0, "Number of polls (0 = until interrupted)")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Poll interval (default COFFER_POLL_INTERVAL)")
	pollCmd.Flags().IntVar(&pollStatsInterval, "stats-interval", 10, "Print statistics every N polls (0 = only at exit)")
}

func runPoll(cmd *cobra.Command, args []string) error {
	bus, busInfo, err := OpenBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	interval := pollInterval
	if interval <= 0 {
		interval = cfg.PollInterval
	}

	fmt.Printf("Coffer - Telemetry Poll\n")
	fmt.Printf("Bus: %s, slave 0x%02X\n", busInfo, cfg.SlaveAddress)
	fmt.Printf("Interval: %s\n", interval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	link := telemetry.NewLink(bus, telemetry.LinkConfig{
		Address: cfg.SlaveAddress,
		Timeout: cfg.BusTimeout,
		Logger:  logger,
		OnPoll: func(r telemetry.Reading, anomalies []telemetry.ValidationError) {
			ts := time.Now().Format("15:04:05.000")
			if r.Err != nil {
				fmt.Printf("[%s] ERROR %v\n", ts, r.Err)
			}
			fmt.Printf("[%s] %s\n", ts, telemetry.FormatReading(r))
			for _, a := range anomalies {
				fmt.Printf("  ANOMALY: %s\n", a.Message)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failed := false
loop:
	for n := 1; pollCount == 0 || n <= pollCount; n++ {
		if _, err := link.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			failed = true
		}
		if pollStatsInterval > 0 && n%pollStatsInterval == 0 {
			stats := link.Stats()
			fmt.Print(stats.String())
		}
		if n == pollCount {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	stats := link.Stats()
	fmt.Printf("\n%s", stats.String())
	if failed && ctx.Err() == nil {
		os.Exit(1)
	}
	return nil
}
