// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of out-of-range record fields
type AnomalyType int

const (
	AnomalyInvalidClock AnomalyType = iota
	AnomalyInvalidDate
	AnomalyInvalidTemp
	AnomalyInvalidHumidity
	AnomalyInvalidSound
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyInvalidClock:
		return "clock"
	case AnomalyInvalidDate:
		return "date"
	case AnomalyInvalidTemp:
		return "temperature"
	case AnomalyInvalidHumidity:
		return "humidity"
	case AnomalyInvalidSound:
		return "sound"
	default:
		return "unknown"
	}
}

// Plausible sensor ranges
const (
	minTemperature = -40.0
	maxTemperature = 85.0
)

// ValidationError represents a record field outside its plausible range
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateRecord checks every field of r.
// Returns a slice of validation errors (empty if the record is plausible)
func ValidateRecord(r Record) []ValidationError {
	errors := []ValidationError{}

	if r.Hour > 23 || r.Minute > 59 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidClock,
			Message: fmt.Sprintf("Invalid time %02d:%02d", r.Hour, r.Minute),
			Details: map[string]interface{}{"hour": r.Hour, "minute": r.Minute},
		})
	}

	if r.Day == 0 || r.Day > 31 || r.Month == 0 || r.Month > 12 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidDate,
			Message: fmt.Sprintf("Invalid date day=%d month=%d", r.Day, r.Month),
			Details: map[string]interface{}{"day": r.Day, "month": r.Month},
		})
	}

	temp := float64(r.Temperature)
	if math.IsNaN(temp) || temp < minTemperature || temp > maxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Invalid temperature=%.1f°C (valid %.0f to %.0f)", temp, minTemperature, maxTemperature),
			Details: map[string]interface{}{"temperature": temp},
		})
	}

	hum := float64(r.Humidity)
	if math.IsNaN(hum) || hum < 0 || hum > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidHumidity,
			Message: fmt.Sprintf("Invalid humidity=%.1f%% (valid 0-100)", hum),
			Details: map[string]interface{}{"humidity": hum},
		})
	}

	if r.SoundPercent > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidSound,
			Message: fmt.Sprintf("Invalid sound level=%d%% (max 100)", r.SoundPercent),
			Details: map[string]interface{}{"sound": r.SoundPercent},
		})
	}

	return errors
}
