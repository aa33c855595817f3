// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/devices/v3/bmxx80"
)

// ============================================================================
// HC-SR04 ultrasonic ranger
// ============================================================================

// ErrNoEcho is returned when the ranger does not answer a trigger.
var ErrNoEcho = errors.New("hw: no echo")

const (
	trigPulse   = 10 * time.Microsecond
	echoTimeout = 30 * time.Millisecond // ~5m round trip
)

// Ultrasonic measures distance with an HC-SR04 style trigger/echo pair.
type Ultrasonic struct {
	trig    gpio.PinOut
	echo    gpio.PinIn
	timeout time.Duration
	now     func() time.Time
	sleep   func(time.Duration)
}

// NewUltrasonic configures trig as output and echo for edge detection.
func NewUltrasonic(trig gpio.PinOut, echo gpio.PinIn) (*Ultrasonic, error) {
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trig: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return &Ultrasonic{
		trig:    trig,
		echo:    echo,
		timeout: echoTimeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}, nil
}

// Distance fires one ping and times the echo pulse.
func (u *Ultrasonic) Distance() (physic.Distance, error) {
	if err := u.trig.Out(gpio.High); err != nil {
		return 0, err
	}
	u.sleep(trigPulse)
	if err := u.trig.Out(gpio.Low); err != nil {
		return 0, err
	}

	if !u.echo.WaitForEdge(u.timeout) {
		return 0, ErrNoEcho
	}
	start := u.now()
	if !u.echo.WaitForEdge(u.timeout) {
		return 0, fmt.Errorf("%w: pulse did not end", ErrNoEcho)
	}
	return echoDistance(u.now().Sub(start)), nil
}

// echoDistance converts a round-trip time at 343 m/s to a one-way distance.
// One nanosecond of flight is 343nm, halved for the return leg.
func echoDistance(d time.Duration) physic.Distance {
	return physic.Distance(int64(d)*343/2) * physic.NanoMetre
}

// ============================================================================
// Tilt switch
// ============================================================================

// TiltSwitch reads a ball or mercury switch.
type TiltSwitch struct {
	pin    gpio.PinIn
	active gpio.Level
}

// NewTiltSwitch configures pin with a pull-up; the switch reads tilted when
// the pin is at active.
func NewTiltSwitch(pin gpio.PinIn, active gpio.Level) (*TiltSwitch, error) {
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("tilt: %w", err)
	}
	return &TiltSwitch{pin: pin, active: active}, nil
}

func (t *TiltSwitch) Tilted() (bool, error) {
	return t.pin.Read() == t.active, nil
}

// ============================================================================
// Sound level via ADC
// ============================================================================

// ADCReader is the subset of analog.PinADC used here.
type ADCReader interface {
	Read() (analog.Sample, error)
}

// SoundMeter scales a microphone envelope voltage to percent of full scale.
type SoundMeter struct {
	adc       ADCReader
	fullScale physic.ElectricPotential
}

// NewSoundMeter reads adc, mapping fullScale to 100%.
func NewSoundMeter(adc ADCReader, fullScale physic.ElectricPotential) *SoundMeter {
	return &SoundMeter{adc: adc, fullScale: fullScale}
}

func (s *SoundMeter) SoundPercent() (uint8, error) {
	sample, err := s.adc.Read()
	if err != nil {
		return 0, err
	}
	if sample.V <= 0 || s.fullScale <= 0 {
		return 0, nil
	}
	pct := int64(sample.V) * 100 / int64(s.fullScale)
	if pct > 100 {
		pct = 100
	}
	return uint8(pct), nil
}

var adsChannels = [4]ads1x15.Channel{
	ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3,
}

// OpenSoundADC opens an ADS1115 at addr and returns a pin reading the single
// ended input channel. The chip handle stays open for the pin's lifetime.
func OpenSoundADC(bus i2c.Bus, addr uint16, channel int) (ads1x15.PinADC, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("ADS1115 channel %d out of range", channel)
	}
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		return nil, fmt.Errorf("ads1115: %w", err)
	}
	pin, err := dev.PinForChannel(adsChannels[channel], 5*physic.Volt, 10*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		return nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}
	return pin, nil
}

// ============================================================================
// BME280
// ============================================================================

// OpenEnv opens a BME280/BMP280 at addr. The returned device satisfies
// telemetry.EnvSensor; call Halt when done.
func OpenEnv(bus i2c.Bus, addr uint16) (*bmxx80.Dev, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80: %w", err)
	}
	return dev, nil
}
