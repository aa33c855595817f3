// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"strings"
)

// FormatMessageType returns a human-readable frame type name
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgReadRequest:
		return "READ_REQUEST"
	case MsgRecord:
		return "RECORD"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func formatErrorCode(code uint8) string {
	switch code {
	case ErrCodeNotReady:
		return "NOT_READY"
	case ErrCodeBadFrame:
		return "BAD_FRAME"
	default:
		return "UNKNOWN"
	}
}

// FormatRecord formats a record on one line
func FormatRecord(r Record) string {
	tilt := "no"
	if r.Tilt {
		tilt = "yes"
	}
	return fmt.Sprintf("%02d:%02d %02d/%02d/%04d  %.1f°C  %.1f%%RH  sound %d%%  tilt %s",
		r.Hour, r.Minute, r.Day, r.Month, r.Year,
		r.Temperature, r.Humidity, r.SoundPercent, tilt)
}

// FormatReading formats a reading including its freshness
func FormatReading(r Reading) string {
	if !r.Valid {
		return "no data"
	}
	s := FormatRecord(r.Record)
	if r.Stale {
		s += "  [stale]"
	}
	return s
}

// FormatFrame formats a decoded frame for display
func FormatFrame(f *Frame) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] %s (0x%02X) addr=0x%02X len=%d crc=0x%04X\n",
		f.Timestamp().Format("15:04:05.000"),
		FormatMessageType(f.Type()), f.Type(), f.Address(), len(f.Payload()), f.CRC())

	switch f.Type() {
	case MsgReadRequest:
		sb.WriteString("  (no payload)\n")
	case MsgRecord:
		rec, err := f.Record()
		if err != nil {
			fmt.Fprintf(&sb, "  Decode error: %v\n", err)
			fmt.Fprintf(&sb, "  Raw: % X\n", f.Payload())
		} else {
			fmt.Fprintf(&sb, "  %s\n", FormatRecord(rec))
			for _, v := range ValidateRecord(rec) {
				fmt.Fprintf(&sb, "  ⚠ %s\n", v.Message)
			}
		}
	case MsgError:
		if len(f.Payload()) > 0 {
			code := f.Payload()[0]
			fmt.Fprintf(&sb, "  Error: %s (0x%02X)\n", formatErrorCode(code), code)
		}
	default:
		fmt.Fprintf(&sb, "  Raw: % X\n", f.Payload())
	}

	return sb.String()
}
