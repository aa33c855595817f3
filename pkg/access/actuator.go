// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package access

import "log/slog"

// Actuator drives the bolt and the user feedback. Calls are fire-and-forget
// and treated as instantaneous.
type Actuator interface {
	Lock()
	Unlock()
	SignalGranted()
	SignalDenied()
}

// LogActuator logs every call. It stands in for hardware in the simulator
// and can wrap a real actuator.
type LogActuator struct {
	Next Actuator // optional
	Log  *slog.Logger
}

func (a *LogActuator) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

func (a *LogActuator) Lock() {
	a.logger().Info("actuator", "action", "lock")
	if a.Next != nil {
		a.Next.Lock()
	}
}

func (a *LogActuator) Unlock() {
	a.logger().Info("actuator", "action", "unlock")
	if a.Next != nil {
		a.Next.Unlock()
	}
}

func (a *LogActuator) SignalGranted() {
	a.logger().Debug("actuator", "action", "signal-granted")
	if a.Next != nil {
		a.Next.SignalGranted()
	}
}

func (a *LogActuator) SignalDenied() {
	a.logger().Debug("actuator", "action", "signal-denied")
	if a.Next != nil {
		a.Next.SignalDenied()
	}
}
