// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Coffer - electronic safe access controller and telemetry slave
//
// A CLI for running the safe's master loop, the telemetry slave, and tools
// for inspecting the telemetry bus and the local audit log.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/coffer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
