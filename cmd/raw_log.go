// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/internal/transport"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display telemetry frames as they arrive.

Each frame is printed with timestamp, message type, address and the decoded
record. Useful on a serial tap between master and slave, or on a WebSocket
bus endpoint.

With --raw the wire bytes of every frame, including stuffing, are printed
under it, and under decode errors as well.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

var rawLogShowBytes bool

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowBytes, "raw", false, "Print the wire bytes of each frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Coffer - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := telemetry.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A WebSocket read error means the connection is gone for good.
			if errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				printRawBytes(decoder)
				continue
			}
			if frame != nil {
				fmt.Print(telemetry.FormatFrame(frame))
				printRawBytes(decoder)
			}
		}
	}
}

func printRawBytes(d *telemetry.Decoder) {
	if !rawLogShowBytes {
		return
	}
	fmt.Printf("  raw: % X\n", d.RawBytes())
}
