// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/Thermoquad/coffer/internal/hw"
	"github.com/Thermoquad/coffer/internal/metrics"
	"github.com/Thermoquad/coffer/internal/mqtt"
	"github.com/Thermoquad/coffer/internal/safe"
	"github.com/Thermoquad/coffer/internal/sim"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/lcd"
	"github.com/Thermoquad/coffer/pkg/proximity"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// recordEvery throttles readings written to the database.
const recordEvery = time.Minute

var (
	masterHW       bool
	masterHeadless bool
	masterStrict   bool
	metricsAddr    string
	mqttBroker     string
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the access controller",
	Long: `Run the safe's master loop: proximity wake, keypad entry, bolt control,
display and telemetry polling.

Telemetry bus:
  --port / --url   poll a slave over serial or WebSocket
  --hw             poll a slave on the host I2C bus
  (neither)        poll an in-process simulated slave

With --hw the keypad, servo bolt, buzzer, LED, ultrasonic ranger and LCD are
driven through periph.io. Without it the console stands in for all of them:
the interactive view shows the LCD and takes keys from the keyboard, and 'p'
toggles a simulated user in front of the safe.

Access events are written to the audit log in the local database, exported
as Prometheus metrics (--metrics-addr) and published over MQTT
(--mqtt-broker) when configured.`,
	Args: cobra.NoArgs,
	RunE: runMaster,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.Flags().BoolVar(&masterHW, "hw", false, "Drive real peripherals through periph.io")
	masterCmd.Flags().BoolVar(&masterHeadless, "headless", false, "Plain console instead of the interactive view")
	masterCmd.Flags().BoolVar(&masterStrict, "strict", false, "Fail on illegal phase transitions instead of ignoring them")
	masterCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides COFFER_METRICS_ADDR)")
	masterCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker host (overrides COFFER_MQTT_BROKER)")
}

// masterRig is everything runMaster wires around the Master.
type masterRig struct {
	master   *safe.Master
	link     *telemetry.Link
	presence *sim.Presence // nil on hardware
	metrics  *metrics.Metrics
	activity *activityLog
	busInfo  string

	// hardware keypad presses, nil without --hw
	keys chan access.Key

	// background loops stopped with the master
	background []func(ctx context.Context) error
	closers    []func()
}

func (r *masterRig) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func runMaster(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("mqtt-broker") {
		cfg.MQTTBroker = mqttBroker
	}

	interactive := !masterHeadless && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		closeLog, err := fileLogger()
		if err != nil {
			return err
		}
		defer closeLog()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rig, err := buildMaster(ctx)
	if err != nil {
		return err
	}
	defer rig.close()

	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer func() {
		cancelBg()
		wg.Wait()
	}()
	for _, fn := range rig.background {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task failed", "error", err)
			}
		}(fn)
	}

	logger.Info("master started", "bus", rig.busInfo, "hardware", masterHW, "interactive", interactive)

	if interactive {
		err = runMasterTUI(bgCtx, rig)
	} else {
		err = runMasterHeadless(bgCtx, rig)
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("master stopped")
		return nil
	}
	return err
}

func buildMaster(ctx context.Context) (_ *masterRig, err error) {
	rig := &masterRig{
		metrics:  metrics.New(),
		activity: newActivityLog(maxActivityEntries),
	}
	defer func() {
		if err != nil {
			rig.close()
		}
	}()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	rig.closers = append(rig.closers, closeStore)

	var mq *mqtt.Client
	if cfg.MQTTBroker != "" {
		mq, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		rig.closers = append(rig.closers, mq.Disconnect)
		rig.background = append(rig.background, func(ctx context.Context) error {
			if err := mq.Connect(ctx); err != nil {
				return err
			}
			return mq.Run(ctx)
		})
	}

	var hwBus i2c.BusCloser
	if masterHW {
		hwBus, err = hw.Init(cfg.I2CBus)
		if err != nil {
			return nil, err
		}
		rig.closers = append(rig.closers, func() { hwBus.Close() })
	}

	// Telemetry
	bus, err := masterBus(rig, hwBus)
	if err != nil {
		return nil, err
	}
	pollHooks := []safe.PollHook{
		rig.metrics.ObservePoll,
		safe.ReadingRecorder(st, recordEvery, logger),
		rig.activity.observePoll,
	}
	if mq != nil {
		pollHooks = append(pollHooks, mq.PublishReading)
	}
	rig.link = telemetry.NewLink(bus, telemetry.LinkConfig{
		Address: cfg.SlaveAddress,
		Timeout: cfg.BusTimeout,
		Logger:  logger,
		OnPoll:  safe.PollHooks(pollHooks...),
	})

	// Access control
	observers := []access.Observer{
		safe.AuditObserver(st, logger),
		rig.metrics.ObserveEvent,
		rig.activity.observeEvent,
	}
	if mq != nil {
		observers = append(observers, mq.PublishEvent)
	}
	acfg := cfg.AccessConfig()
	acfg.Strict = masterStrict
	acfg.Logger = logger
	acfg.Store = st
	acfg.Observer = safe.Observers(observers...)

	act, err := masterActuator()
	if err != nil {
		return nil, err
	}
	ctrl, err := access.NewController(ctx, acfg, act)
	if err != nil {
		return nil, err
	}

	sensor, err := masterPresence(rig)
	if err != nil {
		return nil, err
	}

	var display lcd.Display
	if masterHW {
		d, err := hw.NewCharLCD(hwBus, cfg.LCDAddress)
		if err != nil {
			return nil, err
		}
		display = d
		if rig.keys, err = masterKeypad(rig); err != nil {
			return nil, err
		}
	}

	rig.master, err = safe.NewMaster(safe.MasterConfig{
		Controller: ctrl,
		Keymap:     cfg.Keymap,
		Presence: proximity.NewMonitor(sensor, proximity.Config{
			Threshold: cfg.ProximityThreshold,
			Interval:  cfg.ProximityInterval,
			Logger:    logger,
		}),
		Link:         rig.link,
		Display:      display,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		OnPresence: func(present bool) {
			rig.metrics.SetPresent(present)
			rig.activity.add(presenceMessage(present), false)
		},
		OnRender: func(s access.Snapshot) {
			rig.metrics.SetPhase(s.Phase)
		},
	})
	if err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rig.metrics.Handler())
		logger.Info("serving metrics", "addr", cfg.MetricsAddr, "path", "/metrics")
		rig.background = append(rig.background, func(ctx context.Context) error {
			return serveHTTP(ctx, cfg.MetricsAddr, mux)
		})
	}
	return rig, nil
}

// masterBus picks the telemetry bus: a stream transport when selected, the
// host I2C bus with --hw, an in-process simulated slave otherwise.
func masterBus(rig *masterRig, hwBus i2c.BusCloser) (i2c.Bus, error) {
	switch {
	case streamSelected():
		bus, info, err := OpenBus()
		if err != nil {
			return nil, err
		}
		rig.busInfo = info
		rig.closers = append(rig.closers, func() { bus.Close() })
		return bus, nil

	case hwBus != nil:
		rig.busInfo = "I2C: " + hwBus.String()
		return hwBus, nil
	}

	masterEnd, slaveEnd := net.Pipe()
	srv := telemetry.NewServer(cfg.SlaveAddress, logger)
	env := sim.NewEnvironment(time.Now().UnixNano())
	slave, err := safe.NewSlave(safe.SlaveConfig{
		Server:         srv,
		Sampler:        telemetry.NewSampler(srv, telemetry.SamplerConfig{Env: env, Sound: env, Tilt: env, Log: logger}),
		SampleInterval: cfg.SampleInterval,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	bus := telemetry.NewStreamBus("simulated slave", masterEnd, cfg.BusTimeout)
	rig.busInfo = "simulated slave"
	rig.closers = append(rig.closers, func() {
		bus.Close()
		slaveEnd.Close()
	})
	rig.background = append(rig.background, func(ctx context.Context) error {
		return slave.Run(ctx, func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				slaveEnd.Close()
			}()
			return srv.ServeConn(ctx, slaveEnd)
		})
	})
	return bus, nil
}

// masterActuator logs every actuation and, with --hw, drives the bolt.
func masterActuator() (access.Actuator, error) {
	act := &access.LogActuator{Log: logger.With("component", "actuator")}
	if !masterHW {
		return act, nil
	}

	servoPin, err := hw.Pin(cfg.ServoPin)
	if err != nil {
		return nil, err
	}
	bolt := hw.BoltConfig{
		Servo:       hw.NewServo(servoPin),
		LockAngle:   cfg.ServoLockAngle,
		UnlockAngle: cfg.ServoUnlockAngle,
		Logger:      logger,
	}
	if cfg.BuzzerPin != "" {
		p, err := hw.Pin(cfg.BuzzerPin)
		if err != nil {
			return nil, err
		}
		bolt.Buzzer = hw.NewPulser(p)
	}
	if cfg.LEDPin != "" {
		p, err := hw.Pin(cfg.LEDPin)
		if err != nil {
			return nil, err
		}
		bolt.LED = hw.NewPulser(p)
	}
	act.Next = hw.NewBolt(bolt)
	return act, nil
}

// masterPresence returns the ultrasonic ranger with --hw, otherwise a
// simulated user toggled from the console.
func masterPresence(rig *masterRig) (proximity.DistanceSensor, error) {
	if !masterHW {
		rig.presence = &sim.Presence{}
		return rig.presence, nil
	}
	trig, err := hw.Pin(cfg.TrigPin)
	if err != nil {
		return nil, err
	}
	echo, err := hw.Pin(cfg.EchoPin)
	if err != nil {
		return nil, err
	}
	return hw.NewUltrasonic(trig, echo)
}

// masterKeypad starts scanning the matrix keypad into a channel.
func masterKeypad(rig *masterRig) (chan access.Key, error) {
	var rows [4]gpio.PinOut
	var cols [4]gpio.PinIn
	for i, name := range cfg.KeypadRows {
		p, err := hw.Pin(name)
		if err != nil {
			return nil, err
		}
		rows[i] = p
	}
	for i, name := range cfg.KeypadCols {
		p, err := hw.Pin(name)
		if err != nil {
			return nil, err
		}
		cols[i] = p
	}
	kp, err := hw.NewKeypad(rows, cols)
	if err != nil {
		return nil, err
	}

	keys := make(chan access.Key, 16)
	rig.background = append(rig.background, func(ctx context.Context) error {
		return kp.Run(ctx, hw.DefaultScanInterval, keys)
	})
	return keys, nil
}

func presenceMessage(present bool) string {
	if present {
		return "User arrived"
	}
	return "User left"
}

// ============================================================================
// Activity log
// ============================================================================

const maxActivityEntries = 100

type activityEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// activityLog collects access events and anomalies for the console. Poll
// hooks run on the link goroutine, so it is locked.
type activityLog struct {
	mu         sync.Mutex
	entries    []activityEntry
	maxEntries int
}

func newActivityLog(max int) *activityLog {
	return &activityLog{maxEntries: max}
}

func (a *activityLog) add(message string, isError bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, activityEntry{timestamp: time.Now(), message: message, isError: isError})

	// Keep only last N entries
	if len(a.entries) > a.maxEntries {
		a.entries = a.entries[len(a.entries)-a.maxEntries:]
	}
}

func (a *activityLog) snapshot() []activityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]activityEntry(nil), a.entries...)
}

func (a *activityLog) observeEvent(e access.Event) {
	isError := e.Kind == access.EventDenied || e.Kind == access.EventCodeChangeFailed
	msg := fmt.Sprintf("%s -> %s", e.Kind, e.Phase)
	if e.FailedAttempts > 0 {
		msg += fmt.Sprintf(" (failed attempts: %d)", e.FailedAttempts)
	}
	a.add(msg, isError)
}

func (a *activityLog) observePoll(r telemetry.Reading, anomalies []telemetry.ValidationError) {
	for _, v := range anomalies {
		a.add("ANOMALY: "+v.Message, true)
	}
}

// ============================================================================
// Headless console
// ============================================================================

// runMasterHeadless drives the master from stdin. On a terminal keys are read
// raw, one at a time; otherwise stdin is read as a stream of key characters.
func runMasterHeadless(ctx context.Context, rig *masterRig) error {
	keys := make(chan access.Key, 16)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, old)
	}

	go readConsoleKeys(ctx, rig, keys, cancel, logger)
	if rig.keys != nil {
		go forwardKeys(ctx, rig.keys, keys)
	}
	return rig.master.Run(ctx, keys)
}

// readConsoleKeys maps console bytes to keys. Ctrl+C and 'q' stop the
// master; 'p' toggles simulated presence.
func readConsoleKeys(ctx context.Context, rig *masterRig, keys chan<- access.Key, stop func(), log *slog.Logger) {
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			log.Debug("console input closed", "error", err)
			return
		}
		switch c := buf[0]; c {
		case 0x03, 'q':
			stop()
			return
		case 'p', 'P':
			if rig.presence != nil {
				log.Info("simulated presence", "present", rig.presence.Toggle())
			}
		case '\r', '\n', ' ':
		default:
			k, err := access.ParseKey(rune(c))
			if err != nil {
				continue
			}
			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}
}

func forwardKeys(ctx context.Context, from <-chan access.Key, to chan<- access.Key) {
	for {
		select {
		case <-ctx.Done():
			return
		case k := <-from:
			select {
			case to <- k:
			case <-ctx.Done():
				return
			}
		}
	}
}
