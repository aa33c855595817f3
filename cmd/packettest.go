// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/pkg/telemetry"
)

var (
	packetTestTimeout int
	packetTestRequest bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid record frame",
	Long: `Wait for a valid telemetry record frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for a complete
record frame that passes its CRC check and decodes against the current
schema. Invalid bytes are skipped. With --request (the default) a read
request is sent first so a slave answers immediately.

Exit codes:
  0 - Record received before timeout
  1 - Timeout reached without receiving a valid record
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a record")
	packetTestCmd.Flags().BoolVar(&packetTestRequest, "request", true, "Send a read request before waiting")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Coffer - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid record frame...\n\n")

	if packetTestRequest {
		if _, err := conn.Write(telemetry.MustEncodeFrame(telemetry.NewReadRequest(cfg.SlaveAddress))); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	decoder := telemetry.NewDecoder()
	buf := make([]byte, 128)

	frameChan := make(chan *telemetry.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		invalidBytes := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalidBytes++
					continue
				}
				if frame == nil || frame.Type() != telemetry.MsgRecord {
					continue
				}
				if _, err := frame.Record(); err != nil {
					fmt.Printf("(skipping undecodable record: %v)\n", err)
					continue
				}
				if invalidBytes > 0 {
					fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
				}
				frameChan <- frame
				return
			}
		}
	}()

	select {
	case frame := <-frameChan:
		rec, _ := frame.Record()
		fmt.Printf("SUCCESS: Received valid record\n")
		fmt.Printf("  Address: 0x%02X\n", frame.Address())
		fmt.Printf("  CRC: 0x%04X\n", frame.CRC())
		fmt.Printf("  Record: %s\n", telemetry.FormatRecord(rec))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid record received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
