// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/Thermoquad/coffer/pkg/access"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.AppEnv != "dev" || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("env=%s level=%v", cfg.AppEnv, cfg.LogLevel)
	}
	if cfg.Keymap != access.DefaultKeymap {
		t.Errorf("keymap = %+v", cfg.Keymap)
	}
	if cfg.ProximityThreshold != 300*physic.MilliMetre {
		t.Errorf("threshold = %s", cfg.ProximityThreshold)
	}
	if cfg.InactivityTimeout != 5*time.Second || cfg.SlaveAddress != 0x08 {
		t.Errorf("timeout=%v addr=0x%02X", cfg.InactivityTimeout, cfg.SlaveAddress)
	}
	if len(cfg.KeypadRows) != 4 || cfg.KeypadCols[0] != "GPIO9" {
		t.Errorf("keypad pins rows=%v cols=%v", cfg.KeypadRows, cfg.KeypadCols)
	}
	if cfg.ServoLockAngle != 180 || cfg.ServoUnlockAngle != 90 {
		t.Errorf("servo angles %d/%d", cfg.ServoLockAngle, cfg.ServoUnlockAngle)
	}
	if cfg.DBQueueSize != 64 {
		t.Errorf("db queue = %d", cfg.DBQueueSize)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("COFFER_ENV", "prod")
	t.Setenv("COFFER_LOG_LEVEL", "debug")
	t.Setenv("COFFER_CODE_LENGTH", "6")
	t.Setenv("COFFER_DEFAULT_CODE", "135790")
	t.Setenv("COFFER_KEYMAP", "*C#AB")
	t.Setenv("COFFER_PROXIMITY_THRESHOLD_CM", "45")
	t.Setenv("COFFER_SLAVE_ADDRESS", "0x10")
	t.Setenv("COFFER_AUTO_RELOCK", "2m")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.AppEnv != "prod" || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("env=%s level=%v", cfg.AppEnv, cfg.LogLevel)
	}
	if cfg.CodeLength != 6 || cfg.DefaultCode != "135790" {
		t.Errorf("code %d %q", cfg.CodeLength, cfg.DefaultCode)
	}
	if cfg.Keymap.Confirm != '*' || cfg.Keymap.Cancel != 'C' || cfg.Keymap.Menu != '#' {
		t.Errorf("keymap = %+v", cfg.Keymap)
	}
	if cfg.ProximityThreshold != 450*physic.MilliMetre {
		t.Errorf("threshold = %s", cfg.ProximityThreshold)
	}
	if cfg.SlaveAddress != 0x10 || cfg.AutoRelock != 2*time.Minute {
		t.Errorf("addr=0x%02X relock=%v", cfg.SlaveAddress, cfg.AutoRelock)
	}

	ac := cfg.AccessConfig()
	if ac.CodeLength != 6 || ac.AutoRelock != 2*time.Minute {
		t.Errorf("access config = %+v", ac)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"COFFER_ENV", "staging", "COFFER_ENV"},
		{"COFFER_LOG_LEVEL", "loud", "COFFER_LOG_LEVEL"},
		{"COFFER_CODE_LENGTH", "x", "COFFER_CODE_LENGTH"},
		{"COFFER_CODE_LENGTH", "3", "access"},
		{"COFFER_KEYMAP", "##*AB", "COFFER_KEYMAP"},
		{"COFFER_KEYMAP", "#D*A", "COFFER_KEYMAP"},
		{"COFFER_BUS_TIMEOUT", "soon", "COFFER_BUS_TIMEOUT"},
		{"COFFER_POLL_INTERVAL", "-1s", "COFFER_POLL_INTERVAL"},
		{"COFFER_SLAVE_ADDRESS", "0x80", "COFFER_SLAVE_ADDRESS"},
		{"COFFER_SERVO_LOCK_ANGLE", "270", "COFFER_SERVO_LOCK_ANGLE"},
		{"COFFER_MQTT_PORT", "0", "COFFER_MQTT_PORT"},
		{"COFFER_DB_QUEUE", "0", "COFFER_DB_QUEUE"},
		{"COFFER_KEYPAD_ROWS", "GPIO1,GPIO2", "COFFER_KEYPAD_ROWS"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
