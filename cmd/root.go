// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coffer/internal/config"
	"github.com/Thermoquad/coffer/internal/logging"
)

const version = "1.0.0"

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// I2C flags
	i2cBus    string
	slaveAddr uint16

	logFile string
	dbPath  string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coffer",
	Short: "Electronic safe master and telemetry slave",
	Long: `Coffer - keypad access control and environmental telemetry for an electronic safe.

The master runs the access controller (keypad, proximity wake, servo bolt,
display) and polls the telemetry slave. The slave samples clock, temperature,
humidity, sound level and tilt and serves the latest record on request.

Bus modes:
  I2C:       default, --i2c-bus selects the adapter
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/bus [--username user]

For WebSocket authentication, the password is read from the COFFER_PASSWORD
environment variable, or prompted interactively if not set.

Everything else is configured through COFFER_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		applyFlagOverrides(cmd)
		logger = logging.New(logging.Options{
			Env:     cfg.AppEnv,
			Level:   cfg.LogLevel,
			App:     "coffer",
			Version: version,
			Output:  os.Stderr,
		})
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&i2cBus, "i2c-bus", "", "I2C bus name (default: first bus, overrides COFFER_I2C_BUS)")
	rootCmd.PersistentFlags().Uint16Var(&slaveAddr, "address", 0, "Telemetry slave address (overrides COFFER_SLAVE_ADDRESS)")

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file used while a console owns the terminal (overrides COFFER_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides COFFER_DB_PATH)")
}

// applyFlagOverrides lets explicitly set flags win over the environment.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("i2c-bus") {
		cfg.I2CBus = i2cBus
	}
	if flags.Changed("address") {
		cfg.SlaveAddress = slaveAddr
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
}

// fileLogger redirects logging to cfg.LogFile for commands that own the
// terminal. The returned function closes the file.
func fileLogger() (func(), error) {
	f, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	logger = logging.New(logging.Options{
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
		App:     "coffer",
		Version: version,
		Output:  f,
		NoColor: true,
	})
	slog.SetDefault(logger)
	return func() { f.Close() }, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
