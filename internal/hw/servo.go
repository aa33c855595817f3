// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Hobby servo timing: a 20ms frame with a 1-2ms pulse spanning 0-180 degrees.
const (
	servoFrequency = 50 * physic.Hertz
	servoPeriod    = 20 * time.Millisecond
	servoMinPulse  = 1000 * time.Microsecond
	servoMaxPulse  = 2000 * time.Microsecond
)

// Servo positions a hobby servo with hardware PWM.
type Servo struct {
	pin gpio.PinOut
}

// NewServo drives pin, which must support PWM at 50Hz.
func NewServo(pin gpio.PinOut) *Servo {
	return &Servo{pin: pin}
}

// SetAngle moves the horn to deg, 0-180.
func (s *Servo) SetAngle(deg int) error {
	if deg < 0 || deg > 180 {
		return fmt.Errorf("servo angle %d out of range 0-180", deg)
	}
	return s.pin.PWM(servoDuty(deg), servoFrequency)
}

func servoDuty(deg int) gpio.Duty {
	pulse := servoMinPulse + (servoMaxPulse-servoMinPulse)*time.Duration(deg)/180
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(servoPeriod))
}
