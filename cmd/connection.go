// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/Thermoquad/coffer/internal/hw"
	"github.com/Thermoquad/coffer/internal/transport"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// streamSelected reports whether --port or --url picked a stream transport.
func streamSelected() bool {
	return wsURL != "" || portName != ""
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (transport.Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = transport.GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := transport.OpenWebSocket(context.Background(), wsURL, transport.DialOptions{
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := transport.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// OpenBus returns the bus the master polls the slave on: a stream bus when
// --port or --url is given, the host I2C adapter otherwise.
func OpenBus() (i2c.BusCloser, string, error) {
	if streamSelected() {
		conn, info, err := OpenConnection()
		if err != nil {
			return nil, "", err
		}
		return telemetry.NewStreamBus(info, conn, cfg.BusTimeout), info, nil
	}

	bus, err := hw.Init(cfg.I2CBus)
	if err != nil {
		return nil, "", err
	}
	name := cfg.I2CBus
	if name == "" {
		name = "default"
	}
	return bus, fmt.Sprintf("I2C: %s", name), nil
}
