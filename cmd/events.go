// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/pkg/telemetry"
)

var (
	eventsLimit    int
	eventsReadings bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the access audit log",
	Long: `List recent access decisions from the local database, newest first.

With --readings the recorded telemetry readings are listed instead.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Number of entries to show")
	eventsCmd.Flags().BoolVar(&eventsReadings, "readings", false, "List telemetry readings instead of access events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if eventsReadings {
		readings, err := st.ListReadings(ctx, eventsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RECEIVED\tREADING")
		for _, r := range readings {
			fmt.Fprintf(w, "%s\t%s\n", r.At.Local().Format(time.DateTime), telemetry.FormatReading(r))
		}
		return nil
	}

	events, err := st.ListEvents(ctx, eventsLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tTIME\tEVENT\tPHASE\tFAILED")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			e.ID, e.OccurredAt.Local().Format(time.DateTime), e.Kind, e.Phase, e.FailedAttempts)
	}
	return nil
}
