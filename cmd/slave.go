// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/Thermoquad/coffer/internal/hw"
	"github.com/Thermoquad/coffer/internal/safe"
	"github.com/Thermoquad/coffer/internal/sim"
	"github.com/Thermoquad/coffer/internal/transport"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// soundFullScale is the microphone envelope voltage read as 100%.
const soundFullScale = 3300 * physic.MilliVolt

var (
	slaveListen string
	slaveHW     bool
	slaveSeed   int64
)

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run the telemetry slave",
	Long: `Sample clock, temperature, humidity, sound level and tilt once per
sample interval and answer read requests with the latest record.

Requests are served on a serial port (--port) and/or a WebSocket endpoint
(--listen, path /bus). With --hw the sensors are read through periph.io
(BME280, ADS1115 sound channel, tilt switch); otherwise a simulated room is
sampled.

When --username is set, WebSocket clients must authenticate with that user
and the password in COFFER_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runSlave,
}

func init() {
	rootCmd.AddCommand(slaveCmd)
	slaveCmd.Flags().StringVar(&slaveListen, "listen", "", "Serve the bus over WebSocket on this address (e.g. :8080)")
	slaveCmd.Flags().BoolVar(&slaveHW, "hw", false, "Read real sensors instead of the simulation")
	slaveCmd.Flags().Int64Var(&slaveSeed, "seed", 0, "Simulation seed (0 = time based)")
}

func runSlave(cmd *cobra.Command, args []string) error {
	if slaveListen == "" && portName == "" {
		return fmt.Errorf("either --port or --listen must be specified")
	}

	srv := telemetry.NewServer(cfg.SlaveAddress, logger)
	samplerCfg, closeSensors, err := slaveSensors()
	if err != nil {
		return err
	}
	defer closeSensors()
	samplerCfg.Log = logger

	slave, err := safe.NewSlave(safe.SlaveConfig{
		Server:         srv,
		Sampler:        telemetry.NewSampler(srv, samplerCfg),
		SampleInterval: cfg.SampleInterval,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	var listeners []safe.Listener

	if portName != "" {
		conn, err := transport.OpenSerial(portName, baudRate)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info("serving on serial port", "port", portName, "baud", baudRate)
		listeners = append(listeners, func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			err := srv.ServeConn(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = errors.New("serial port closed")
			}
			return err
		})
	}

	if slaveListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/bus", &transport.Handler{
			Serve:    srv.ServeConn,
			Username: wsUsername,
			Password: os.Getenv(transport.PasswordEnv),
			Logger:   logger,
		})
		logger.Info("serving on websocket", "addr", slaveListen, "path", "/bus")
		listeners = append(listeners, func(ctx context.Context) error {
			return serveHTTP(ctx, slaveListen, mux)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("slave started",
		"address", fmt.Sprintf("0x%02X", cfg.SlaveAddress),
		"sample_interval", cfg.SampleInterval,
		"hardware", slaveHW,
	)
	err = slave.Run(ctx, listeners...)
	if errors.Is(err, context.Canceled) {
		logger.Info("slave stopped")
		return nil
	}
	return err
}

// slaveSensors builds the sampler inputs, real or simulated.
func slaveSensors() (telemetry.SamplerConfig, func(), error) {
	if !slaveHW {
		seed := slaveSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		env := sim.NewEnvironment(seed)
		return telemetry.SamplerConfig{Env: env, Sound: env, Tilt: env}, func() {}, nil
	}

	bus, err := hw.Init(cfg.I2CBus)
	if err != nil {
		return telemetry.SamplerConfig{}, nil, err
	}
	env, err := hw.OpenEnv(bus, cfg.BME280Address)
	if err != nil {
		bus.Close()
		return telemetry.SamplerConfig{}, nil, err
	}
	adc, err := hw.OpenSoundADC(bus, cfg.ADCAddress, cfg.SoundChannel)
	if err != nil {
		env.Halt()
		bus.Close()
		return telemetry.SamplerConfig{}, nil, err
	}
	tiltPin, err := hw.Pin(cfg.TiltPin)
	if err != nil {
		adc.Halt()
		env.Halt()
		bus.Close()
		return telemetry.SamplerConfig{}, nil, err
	}
	tilt, err := hw.NewTiltSwitch(tiltPin, gpio.Low)
	if err != nil {
		adc.Halt()
		env.Halt()
		bus.Close()
		return telemetry.SamplerConfig{}, nil, err
	}

	closeFn := func() {
		adc.Halt()
		env.Halt()
		bus.Close()
	}
	return telemetry.SamplerConfig{
		Env:   env,
		Sound: hw.NewSoundMeter(adc, soundFullScale),
		Tilt:  tilt,
	}, closeFn, nil
}
