// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the COFFER_* environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/Thermoquad/coffer/internal/db"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/proximity"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// Config is the full process configuration.
type Config struct {
	AppEnv   string
	LogLevel slog.Level
	LogFile  string
	DeviceID string

	// Access controller
	CodeLength           int
	DefaultCode          string
	Keymap               access.Keymap
	InactivityTimeout    time.Duration
	GrantedDisplay       time.Duration
	DeniedDisplay        time.Duration
	AutoRelock           time.Duration
	MaxCodeChangeRetries int

	// Proximity
	ProximityThreshold physic.Distance
	ProximityInterval  time.Duration

	// Telemetry bus
	SlaveAddress   uint16
	BusTimeout     time.Duration
	PollInterval   time.Duration
	SampleInterval time.Duration

	// Hardware
	I2CBus           string
	ServoPin         string
	ServoLockAngle   int // degrees
	ServoUnlockAngle int
	BuzzerPin        string
	LEDPin           string
	TrigPin          string
	EchoPin          string
	TiltPin          string
	BME280Address    uint16
	ADCAddress       uint16
	SoundChannel     int
	LCDAddress       uint16
	KeypadRows       []string
	KeypadCols       []string

	// Persistence and export
	DBPath       string
	DBQueueSize  int
	MQTTBroker   string // empty disables publishing
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string
	MetricsAddr  string // empty disables the endpoint
}

// LoadFromEnv reads the configuration, applying defaults for unset
// variables.
func LoadFromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)
	e := &envReader{}

	cfg.AppEnv = e.str("COFFER_ENV", "dev")
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid COFFER_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}
	if cfg.LogLevel, err = parseLogLevel(e.str("COFFER_LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	cfg.LogFile = e.str("COFFER_LOG_FILE", "coffer.log")
	cfg.DeviceID = e.str("COFFER_DEVICE_ID", "safe-1")

	cfg.CodeLength = e.integer("COFFER_CODE_LENGTH", access.DefaultCodeLength)
	cfg.DefaultCode = e.str("COFFER_DEFAULT_CODE", access.DefaultCode)
	cfg.Keymap, err = parseKeymap(e.str("COFFER_KEYMAP", "#D*AB"))
	if err != nil {
		return Config{}, err
	}
	cfg.InactivityTimeout = e.duration("COFFER_INACTIVITY_TIMEOUT", access.DefaultInactivityTimeout)
	cfg.GrantedDisplay = e.duration("COFFER_GRANTED_DISPLAY", access.DefaultGrantedDisplay)
	cfg.DeniedDisplay = e.duration("COFFER_DENIED_DISPLAY", access.DefaultDeniedDisplay)
	cfg.AutoRelock = e.duration("COFFER_AUTO_RELOCK", 0)
	cfg.MaxCodeChangeRetries = e.integer("COFFER_MAX_CODE_RETRIES", access.DefaultMaxCodeChangeRetries)

	cm := e.integer("COFFER_PROXIMITY_THRESHOLD_CM", int(proximity.DefaultThreshold/(10*physic.MilliMetre)))
	cfg.ProximityThreshold = physic.Distance(cm) * 10 * physic.MilliMetre
	cfg.ProximityInterval = e.duration("COFFER_PROXIMITY_INTERVAL", proximity.DefaultInterval)

	cfg.SlaveAddress = e.address("COFFER_SLAVE_ADDRESS", telemetry.DefaultSlaveAddress)
	cfg.BusTimeout = e.duration("COFFER_BUS_TIMEOUT", telemetry.DefaultBusTimeout)
	cfg.PollInterval = e.duration("COFFER_POLL_INTERVAL", telemetry.DefaultPollInterval)
	cfg.SampleInterval = e.duration("COFFER_SAMPLE_INTERVAL", telemetry.DefaultSampleInterval)

	cfg.I2CBus = e.str("COFFER_I2C_BUS", "")
	cfg.ServoPin = e.str("COFFER_SERVO_PIN", "GPIO18")
	cfg.ServoLockAngle = e.integer("COFFER_SERVO_LOCK_ANGLE", 180)
	cfg.ServoUnlockAngle = e.integer("COFFER_SERVO_UNLOCK_ANGLE", 90)
	cfg.BuzzerPin = e.str("COFFER_BUZZER_PIN", "GPIO23")
	cfg.LEDPin = e.str("COFFER_LED_PIN", "GPIO24")
	cfg.TrigPin = e.str("COFFER_TRIG_PIN", "GPIO5")
	cfg.EchoPin = e.str("COFFER_ECHO_PIN", "GPIO6")
	cfg.TiltPin = e.str("COFFER_TILT_PIN", "GPIO27")
	cfg.BME280Address = e.address("COFFER_BME280_ADDRESS", 0x76)
	cfg.ADCAddress = e.address("COFFER_ADC_ADDRESS", 0x48)
	cfg.SoundChannel = e.integer("COFFER_SOUND_CHANNEL", 0)
	cfg.LCDAddress = e.address("COFFER_LCD_ADDRESS", 0x27)
	cfg.KeypadRows = e.list("COFFER_KEYPAD_ROWS", "GPIO4,GPIO17,GPIO22,GPIO10")
	cfg.KeypadCols = e.list("COFFER_KEYPAD_COLS", "GPIO9,GPIO11,GPIO13,GPIO19")

	cfg.DBPath = e.str("COFFER_DB_PATH", "./data/coffer.db")
	cfg.DBQueueSize = e.integer("COFFER_DB_QUEUE", db.DefaultQueueSize)
	cfg.MQTTBroker = e.str("COFFER_MQTT_BROKER", "")
	cfg.MQTTPort = e.integer("COFFER_MQTT_PORT", 1883)
	cfg.MQTTClientID = e.str("COFFER_MQTT_CLIENT_ID", "coffer-"+cfg.DeviceID)
	cfg.MQTTTopic = e.str("COFFER_MQTT_TOPIC", "coffer")
	cfg.MetricsAddr = e.str("COFFER_METRICS_ADDR", "")

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := c.AccessConfig().Validate(); err != nil {
		return fmt.Errorf("access: %w", err)
	}
	if c.ProximityThreshold <= 0 {
		return fmt.Errorf("COFFER_PROXIMITY_THRESHOLD_CM must be positive")
	}
	for name, d := range map[string]time.Duration{
		"COFFER_PROXIMITY_INTERVAL": c.ProximityInterval,
		"COFFER_BUS_TIMEOUT":        c.BusTimeout,
		"COFFER_POLL_INTERVAL":      c.PollInterval,
		"COFFER_SAMPLE_INTERVAL":    c.SampleInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.SlaveAddress > 0x7F {
		return fmt.Errorf("COFFER_SLAVE_ADDRESS 0x%X is not a 7-bit address", c.SlaveAddress)
	}
	for name, a := range map[string]int{
		"COFFER_SERVO_LOCK_ANGLE":   c.ServoLockAngle,
		"COFFER_SERVO_UNLOCK_ANGLE": c.ServoUnlockAngle,
	} {
		if a < 0 || a > 180 {
			return fmt.Errorf("%s must be 0-180, got %d", name, a)
		}
	}
	if len(c.KeypadRows) != 4 || len(c.KeypadCols) != 4 {
		return fmt.Errorf("COFFER_KEYPAD_ROWS and COFFER_KEYPAD_COLS need 4 pins each")
	}
	if c.SoundChannel < 0 || c.SoundChannel > 3 {
		return fmt.Errorf("COFFER_SOUND_CHANNEL must be 0-3, got %d", c.SoundChannel)
	}
	if c.DBQueueSize <= 0 {
		return fmt.Errorf("COFFER_DB_QUEUE must be positive, got %d", c.DBQueueSize)
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("invalid COFFER_MQTT_PORT %d", c.MQTTPort)
	}
	return nil
}

// AccessConfig returns the controller settings. Clock, logger, observer and
// store are filled in by the caller.
func (c Config) AccessConfig() access.Config {
	return access.Config{
		CodeLength:           c.CodeLength,
		DefaultCode:          c.DefaultCode,
		Keymap:               c.Keymap,
		InactivityTimeout:    c.InactivityTimeout,
		GrantedDisplay:       c.GrantedDisplay,
		DeniedDisplay:        c.DeniedDisplay,
		AutoRelock:           c.AutoRelock,
		MaxCodeChangeRetries: c.MaxCodeChangeRetries,
	}
}

// envReader keeps the first parse error so LoadFromEnv reads linearly.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) list(key, def string) []string {
	var out []string
	for _, f := range strings.Split(e.str(key, def), ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (e *envReader) integer(key string, def int) int {
	s := e.str(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	s := e.str(key, "")
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v
}

func (e *envReader) address(key string, def uint16) uint16 {
	s := e.str(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint16(v)
}

// parseKeymap reads five keys in the order confirm, cancel, menu,
// change-code, lock.
func parseKeymap(s string) (access.Keymap, error) {
	if len(s) != 5 {
		return access.Keymap{}, fmt.Errorf("invalid COFFER_KEYMAP %q: want 5 keys (confirm cancel menu change lock)", s)
	}
	var keys [5]access.Key
	for i := range keys {
		k, err := access.ParseKey(rune(s[i]))
		if err != nil {
			return access.Keymap{}, fmt.Errorf("invalid COFFER_KEYMAP %q: %w", s, err)
		}
		keys[i] = k
	}
	km := access.Keymap{Confirm: keys[0], Cancel: keys[1], Menu: keys[2], ChangeCode: keys[3], Lock: keys[4]}
	if err := km.Validate(); err != nil {
		return access.Keymap{}, fmt.Errorf("invalid COFFER_KEYMAP %q: %w", s, err)
	}
	return km, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid COFFER_LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
